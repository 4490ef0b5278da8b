package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/image"
	"github.com/waabox/dockworker/internal/log"
)

const (
	DefaultRef          = "main"
	DefaultPollInterval = time.Second
	DefaultTimeout      = 30 * time.Minute

	snapshotPageSize = 3
	dispatchEvent    = "workflow_dispatch"
)

// Settings are the read-only parameters of an Orchestrator.
type Settings struct {
	DefaultWorkflow string
	Ref             string
	Registry        string
	Namespace       string
	// PollInterval of zero polls back-to-back; negative selects the default.
	PollInterval time.Duration
	Timeout      time.Duration
	// MaxLocateAttempts bounds the Locate phase; zero leaves only Timeout.
	MaxLocateAttempts int
}

// Options tune a single orchestration call.
type Options struct {
	// Workflow overrides Settings.DefaultWorkflow when non-empty.
	Workflow string
	// DryRun skips the dispatch and tracks the newest existing run.
	DryRun    bool
	Progress  func(Progress)
	OnLocated func(Tracked)
}

// Tracked is a located run that has not necessarily finished yet.
type Tracked struct {
	Request     domain.ImageTransferRequest
	Workflow    domain.Workflow
	Baseline    int64
	HasBaseline bool
	RunID       int64
	RunNumber   int64
	RunName     string
	Started     time.Time
	DryRun      bool
}

// Orchestrator runs the trigger-and-poll state machine against a Gateway.
type Orchestrator struct {
	gateway  domain.Gateway
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Orchestrator. A nil logger uses the package logger.
func New(gateway domain.Gateway, settings Settings, logger *slog.Logger) *Orchestrator {
	if settings.Ref == "" {
		settings.Ref = DefaultRef
	}
	if settings.PollInterval < 0 {
		settings.PollInterval = DefaultPollInterval
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Orchestrator{
		gateway:  gateway,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveWorkflow returns the first workflow whose name matches exactly.
// An empty name resolves the configured default workflow.
func (o *Orchestrator) ResolveWorkflow(ctx context.Context, name string) (domain.Workflow, error) {
	if name == "" {
		name = o.settings.DefaultWorkflow
	}
	if name == "" {
		return domain.Workflow{}, fmt.Errorf("%w: no workflow name given and no default configured", domain.ErrWorkflowNotFound)
	}
	list, err := o.gateway.ListWorkflows(ctx)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("listing workflows: %w", err)
	}
	for _, w := range list.Workflows {
		if w.Name == name {
			return w, nil
		}
	}
	return domain.Workflow{}, fmt.Errorf("%w: %q", domain.ErrWorkflowNotFound, name)
}

// ForkImage dispatches the transfer and waits for the run to finish.
// The returned outcome always has its State set; a non-nil error is also
// stored in outcome.Err.
func (o *Orchestrator) ForkImage(ctx context.Context, req domain.ImageTransferRequest, opts Options) (domain.DispatchOutcome, error) {
	tracked, stage, err := o.trigger(ctx, req, opts)
	if err != nil {
		outcome := domain.DispatchOutcome{
			State:    stateFor(stage, err),
			Request:  req,
			Workflow: tracked.Workflow,
			Err:      err,
		}
		return outcome, err
	}
	return o.Await(ctx, tracked, opts)
}

// Trigger runs Resolve, Snapshot, Dispatch and Locate and returns as soon as
// the run produced by this request has been identified.
func (o *Orchestrator) Trigger(ctx context.Context, req domain.ImageTransferRequest, opts Options) (Tracked, error) {
	tracked, _, err := o.trigger(ctx, req, opts)
	return tracked, err
}

// StateOf maps an error returned by Trigger or Await to its outcome state.
func StateOf(err error) domain.OutcomeState {
	stage := StageAwait
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	return stateFor(stage, err)
}

func (o *Orchestrator) trigger(ctx context.Context, req domain.ImageTransferRequest, opts Options) (Tracked, Stage, error) {
	tracked := Tracked{
		Request: req,
		Started: o.now(),
		DryRun:  opts.DryRun,
	}
	ctx, cancel := context.WithDeadline(ctx, tracked.Started.Add(o.settings.Timeout))
	defer cancel()

	logger := o.logger.With("distinct_id", req.DistinctID, "source", req.Source)

	report(opts, Progress{Stage: StageResolve, Message: "resolving workflow"})
	workflow, err := o.ResolveWorkflow(ctx, opts.Workflow)
	if err != nil {
		return tracked, StageResolve, o.fail(ctx, StageResolve, err)
	}
	tracked.Workflow = workflow
	logger = logger.With("workflow", workflow.Name, "workflow_id", workflow.ID)

	report(opts, Progress{Stage: StageSnapshot, Message: "recording latest run number", Workflow: workflow})
	runs, err := o.listDispatchRuns(ctx, workflow.ID)
	if err != nil {
		return tracked, StageSnapshot, o.fail(ctx, StageSnapshot, fmt.Errorf("snapshotting runs: %w", err))
	}
	tracked.Baseline, tracked.HasBaseline = highestRunNumber(runs.Runs)
	if tracked.HasBaseline {
		logger.Info("last run number", "run_number", tracked.Baseline)
	}

	if opts.DryRun {
		logger.Info("dry run, skipping dispatch")
	} else {
		report(opts, Progress{Stage: StageDispatch, Message: "dispatching workflow", Workflow: workflow})
		if err := o.gateway.CreateDispatch(ctx, workflow.ID, o.settings.Ref, req.Inputs()); err != nil {
			return tracked, StageDispatch, o.fail(ctx, StageDispatch, err)
		}
		logger.Info("workflow triggered", "ref", o.settings.Ref)
	}

	if err := o.locate(ctx, &tracked, opts); err != nil {
		return tracked, StageLocate, o.fail(ctx, StageLocate, err)
	}
	logger.Info("run located", "run_id", tracked.RunID, "run_number", tracked.RunNumber, "run_name", tracked.RunName)
	if opts.OnLocated != nil {
		opts.OnLocated(tracked)
	}
	return tracked, StageLocate, nil
}

func (o *Orchestrator) locate(ctx context.Context, tracked *Tracked, opts Options) error {
	marker := tracked.Request.RunMarker()
	for attempt := 1; ; attempt++ {
		if err := o.wait(ctx); err != nil {
			return err
		}
		runs, err := o.listDispatchRuns(ctx, tracked.Workflow.ID)
		if err != nil {
			return fmt.Errorf("locating run: %w", err)
		}
		run, ok := matchRun(runs.Runs, tracked.Baseline, tracked.HasBaseline, marker, tracked.DryRun)
		if ok {
			tracked.RunID = run.ID
			tracked.RunNumber = run.RunNumber
			tracked.RunName = run.Name
			report(opts, Progress{
				Stage:     StageLocate,
				Message:   fmt.Sprintf("located run #%d", run.RunNumber),
				Workflow:  tracked.Workflow,
				RunID:     run.ID,
				RunNumber: run.RunNumber,
				Status:    run.Status,
			})
			return nil
		}
		if o.settings.MaxLocateAttempts > 0 && attempt >= o.settings.MaxLocateAttempts {
			return fmt.Errorf("%w: no run named with %s after %d attempts", domain.ErrTimeout, marker, attempt)
		}
		report(opts, Progress{
			Stage:    StageLocate,
			Message:  fmt.Sprintf("waiting for run %s to appear", marker),
			Workflow: tracked.Workflow,
		})
	}
}

// Await polls the tracked run until it completes. The deadline is measured
// from tracked.Started so Trigger and Await share one timeout budget.
func (o *Orchestrator) Await(ctx context.Context, tracked Tracked, opts Options) (domain.DispatchOutcome, error) {
	started := tracked.Started
	if started.IsZero() {
		started = o.now()
	}
	ctx, cancel := context.WithDeadline(ctx, started.Add(o.settings.Timeout))
	defer cancel()

	outcome := domain.DispatchOutcome{
		Request:   tracked.Request,
		Workflow:  tracked.Workflow,
		RunID:     tracked.RunID,
		RunNumber: tracked.RunNumber,
	}
	logger := o.logger.With("run_id", tracked.RunID, "run_number", tracked.RunNumber)

	var lastStatus domain.RunStatus
	for {
		if err := o.wait(ctx); err != nil {
			return o.finish(outcome, StageAwait, o.fail(ctx, StageAwait, err))
		}
		run, err := o.gateway.GetRun(ctx, tracked.RunID)
		if err != nil {
			return o.finish(outcome, StageAwait, o.fail(ctx, StageAwait, fmt.Errorf("polling run: %w", err)))
		}
		if run.Status != lastStatus {
			logger.Debug("run status changed", "status", run.Status)
			lastStatus = run.Status
		}
		if !run.Status.Terminal() {
			report(opts, Progress{
				Stage:     StageAwait,
				Message:   fmt.Sprintf("current status: %s", run.Status),
				Workflow:  tracked.Workflow,
				RunID:     run.ID,
				RunNumber: run.RunNumber,
				Status:    run.Status,
			})
			continue
		}

		outcome.Conclusion = run.Conclusion
		if run.Succeeded() {
			outcome.State = domain.OutcomeSucceeded
			outcome.Image = image.FullName(o.settings.Registry, o.settings.Namespace, tracked.Request.Target)
			logger.Info("workflow completed successfully", "image", outcome.Image)
			report(opts, Progress{
				Stage:     StageDone,
				Message:   "workflow completed successfully",
				Workflow:  tracked.Workflow,
				RunID:     run.ID,
				RunNumber: run.RunNumber,
				Status:    run.Status,
			})
			return outcome, nil
		}
		err = fmt.Errorf("%w: conclusion %q", domain.ErrRunFailed, run.Conclusion)
		logger.Error("workflow did not complete successfully", "conclusion", run.Conclusion)
		report(opts, Progress{
			Stage:     StageDone,
			Message:   fmt.Sprintf("workflow did not complete successfully: %s", run.Conclusion),
			Workflow:  tracked.Workflow,
			RunID:     run.ID,
			RunNumber: run.RunNumber,
			Status:    run.Status,
		})
		return o.finish(outcome, StageAwait, err)
	}
}

func (o *Orchestrator) finish(outcome domain.DispatchOutcome, stage Stage, err error) (domain.DispatchOutcome, error) {
	outcome.State = stateFor(stage, err)
	outcome.Err = err
	return outcome, err
}

func (o *Orchestrator) listDispatchRuns(ctx context.Context, workflowID int64) (domain.RunList, error) {
	return o.gateway.ListRuns(ctx, workflowID, domain.RunFilter{
		Event:   dispatchEvent,
		PerPage: snapshotPageSize,
		Page:    1,
	})
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.settings.PollInterval):
		return nil
	}
}

// fail converts context expiry into ErrTimeout and tags err with its stage.
func (o *Orchestrator) fail(ctx context.Context, stage Stage, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%w after %s during %s", domain.ErrTimeout, o.settings.Timeout, stage)
		}
	}
	return &stageError{stage: stage, err: err}
}

func report(opts Options, p Progress) {
	if opts.Progress != nil {
		opts.Progress(p)
	}
}

// stateFor maps a failure to its outcome state. A dispatch that failed in
// transit may still have reached the provider, so only an explicit rejection
// is reported as dispatch-rejected at that stage.
func stateFor(stage Stage, err error) domain.OutcomeState {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return domain.OutcomeTimedOut
	case errors.Is(err, context.Canceled):
		return domain.OutcomeFailed
	case stage == StageDispatch:
		if errors.Is(err, domain.ErrDispatchRejected) {
			return domain.OutcomeDispatchRejected
		}
		return domain.OutcomeFailed
	case stage.preDispatch():
		return domain.OutcomeDispatchRejected
	default:
		return domain.OutcomeFailed
	}
}

type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }
