// Package service is the caller-side glue shared by the CLI, the HTTP API and
// the terminal form: it loads settings, runs the orchestrator and records the
// outcome in the job history, metrics and event stream.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/waabox/dockworker/internal/config"
	"github.com/waabox/dockworker/internal/dispatch"
	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/jobs"
	"github.com/waabox/dockworker/internal/log"
	"github.com/waabox/dockworker/internal/metrics"
	"github.com/waabox/dockworker/internal/notify"
	"github.com/waabox/dockworker/internal/provider"
	githubprovider "github.com/waabox/dockworker/internal/provider/github"
)

// JobStore is the job history used by the service.
type JobStore interface {
	Create(ctx context.Context, job jobs.Job) (jobs.Job, error)
	Start(ctx context.Context, id, workflowID int64, workflowName string, runID, runNumber int64) error
	Finish(ctx context.Context, id int64, status jobs.Status, fullURL, errMsg string) error
	Get(ctx context.Context, id int64) (jobs.Job, error)
	List(ctx context.Context, limit int) ([]jobs.Job, error)
}

// Publisher emits finished-job events.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// ImagePuller fetches a forked image locally under its public name.
type ImagePuller interface {
	PullAndTag(ctx context.Context, image, localName string) error
}

// Dependencies wires a Service. Publisher, Puller and Metrics are optional;
// without a Puller, requests that ask for a pull are rejected.
type Dependencies struct {
	Settings   func() (config.Config, error)
	NewGateway func(config.Config) (domain.Gateway, error)
	Jobs       JobStore
	Publisher  Publisher
	Puller     ImagePuller
	Metrics    *metrics.Metrics
	// Logger is the base logger; components are tagged from it.
	Logger     *slog.Logger
	// Background bounds jobs started with StartFork; defaults to context.Background.
	Background context.Context
}

// ErrPullUnavailable is returned when a pull is requested but no Docker
// client is configured.
var ErrPullUnavailable = errors.New("docker unavailable")

// ForkRequest is one caller request to copy an image.
type ForkRequest struct {
	Source     string `json:"source"`
	Target     string `json:"target,omitempty"`
	Workflow   string `json:"workflow,omitempty"`
	DistinctID string `json:"distinct_id,omitempty"`
	Pull       bool   `json:"pull,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
	// Timeout overrides poll.timeout when positive.
	Timeout time.Duration `json:"-"`
}

// ForkResult is the recorded job together with the orchestration outcome.
type ForkResult struct {
	Job     jobs.Job
	Outcome domain.DispatchOutcome
}

// Service runs forks and answers history and provider queries.
type Service struct {
	deps           Dependencies
	logger         *slog.Logger
	dispatchLogger *slog.Logger
	wg             sync.WaitGroup
}

// New creates a Service. A nil NewGateway uses the GitHub adapter.
func New(deps Dependencies) *Service {
	if deps.NewGateway == nil {
		deps.NewGateway = NewGitHubGateway
	}
	if deps.Background == nil {
		deps.Background = context.Background()
	}
	base := deps.Logger
	if base == nil {
		base = log.Get()
	}
	return &Service{
		deps:           deps,
		logger:         base.With("component", "service"),
		dispatchLogger: base.With("component", "dispatch"),
	}
}

// NewGitHubGateway builds the GitHub Actions adapter from settings.
func NewGitHubGateway(cfg config.Config) (domain.Gateway, error) {
	repo := domain.Repository{Owner: cfg.GitHub.Owner, Name: cfg.RepoOrDefault()}
	return githubprovider.NewAdapter(repo, githubprovider.Options{
		Token:    cfg.GitHub.Token,
		BaseURL:  cfg.GitHub.BaseURL,
		ProxyURL: cfg.ProxyURL(),
	})
}

// Fork runs a transfer to completion. progress may be nil.
func (s *Service) Fork(ctx context.Context, req ForkRequest, progress func(dispatch.Progress)) (ForkResult, error) {
	run, err := s.prepare(ctx, req, progress)
	if err != nil {
		return ForkResult{}, err
	}
	outcome, err := run.orch.ForkImage(ctx, run.request, run.opts)
	return s.complete(ctx, run, outcome, err)
}

// StartFork returns once the run has been located; awaiting continues in the
// background under Dependencies.Background. The returned channel receives the
// final result and is then closed.
func (s *Service) StartFork(ctx context.Context, req ForkRequest) (jobs.Job, <-chan ForkResult, error) {
	run, err := s.prepare(ctx, req, nil)
	if err != nil {
		return jobs.Job{}, nil, err
	}
	tracked, err := run.orch.Trigger(ctx, run.request, run.opts)
	if err != nil {
		outcome := domain.DispatchOutcome{
			State:    dispatch.StateOf(err),
			Request:  run.request,
			Workflow: tracked.Workflow,
			Err:      err,
		}
		result, err := s.complete(ctx, run, outcome, err)
		return result.Job, nil, err
	}

	located, err := s.deps.Jobs.Get(ctx, run.job.ID)
	if err != nil {
		located = run.job
	}

	done := make(chan ForkResult, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		bg := s.deps.Background
		outcome, err := run.orch.Await(bg, tracked, run.opts)
		result, _ := s.complete(bg, run, outcome, err)
		done <- result
	}()
	return located, done, nil
}

// Wait blocks until every background await started by StartFork has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// ListWorkflows lists the pusher repository's workflows.
func (s *Service) ListWorkflows(ctx context.Context) (domain.WorkflowList, error) {
	gw, _, err := s.gateway()
	if err != nil {
		return domain.WorkflowList{}, err
	}
	return gw.ListWorkflows(ctx)
}

// ListRuns lists runs of one workflow.
func (s *Service) ListRuns(ctx context.Context, workflowID int64, filter domain.RunFilter) (domain.RunList, error) {
	gw, _, err := s.gateway()
	if err != nil {
		return domain.RunList{}, err
	}
	return gw.ListRuns(ctx, workflowID, filter)
}

// Jobs returns the most recent jobs, newest first.
func (s *Service) Jobs(ctx context.Context, limit int) ([]jobs.Job, error) {
	return s.deps.Jobs.List(ctx, limit)
}

// Job returns one job by id.
func (s *Service) Job(ctx context.Context, id int64) (jobs.Job, error) {
	return s.deps.Jobs.Get(ctx, id)
}

type preparedRun struct {
	request domain.ImageTransferRequest
	pull    bool
	orch    *dispatch.Orchestrator
	opts    dispatch.Options
	job     jobs.Job
	started time.Time
	logger  *slog.Logger
}

func (s *Service) gateway() (domain.Gateway, config.Config, error) {
	cfg, err := s.deps.Settings()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, config.Config{}, err
	}
	gw, err := s.deps.NewGateway(cfg)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("creating gateway: %w", err)
	}
	return provider.NewRefreshingGateway(gw, "github", s.rebuildGateway), cfg, nil
}

// rebuildGateway reloads settings so a token rotated mid-run is picked up.
func (s *Service) rebuildGateway() (domain.Gateway, error) {
	cfg, err := s.deps.Settings()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return s.deps.NewGateway(cfg)
}

func (s *Service) prepare(ctx context.Context, req ForkRequest, progress func(dispatch.Progress)) (*preparedRun, error) {
	request, err := domain.NewImageTransferRequest(req.Source, req.Target, req.DistinctID)
	if err != nil {
		return nil, err
	}
	if req.Pull && s.deps.Puller == nil {
		return nil, fmt.Errorf("pulling forked image: %w", ErrPullUnavailable)
	}
	gw, cfg, err := s.gateway()
	if err != nil {
		return nil, err
	}

	timeout := cfg.TimeoutOrDefault()
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	orch := dispatch.New(gw, dispatch.Settings{
		DefaultWorkflow:   cfg.DefaultWorkflowOrDefault(),
		Ref:               cfg.RefOrDefault(),
		Registry:          cfg.RegistryEndpointOrDefault(),
		Namespace:         cfg.Registry.Namespace,
		PollInterval:      cfg.PollIntervalOrDefault(),
		Timeout:           timeout,
		MaxLocateAttempts: cfg.Poll.MaxLocateAttempts,
	}, s.dispatchLogger)

	job, err := s.deps.Jobs.Create(ctx, jobs.Job{
		Source:        request.Source,
		Target:        request.Target,
		DistinctID:    request.DistinctID,
		RepoURL:       cfg.RegistryEndpointOrDefault(),
		RepoNamespace: cfg.Registry.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("recording job: %w", err)
	}

	run := &preparedRun{
		request: request,
		pull:    req.Pull,
		orch:    orch,
		job:     job,
		started: time.Now(),
		logger:  s.logger.With("job_id", job.ID, "distinct_id", request.DistinctID),
	}
	run.opts = dispatch.Options{
		Workflow: req.Workflow,
		DryRun:   req.DryRun,
		Progress: func(p dispatch.Progress) {
			if s.deps.Metrics != nil && (p.Stage == dispatch.StageLocate || p.Stage == dispatch.StageAwait) {
				s.deps.Metrics.RecordPoll(string(p.Stage))
			}
			if progress != nil {
				progress(p)
			}
		},
		OnLocated: func(t dispatch.Tracked) {
			if err := s.deps.Jobs.Start(ctx, job.ID, t.Workflow.ID, t.Workflow.Name, t.RunID, t.RunNumber); err != nil {
				run.logger.Warn("failed to record located run", "error", err)
			}
		},
	}
	run.logger.Info("fork requested", "source", request.Source, "target", request.Target, "dry_run", req.DryRun)
	return run, nil
}

// complete records a finished outcome everywhere and returns the final job.
func (s *Service) complete(ctx context.Context, run *preparedRun, outcome domain.DispatchOutcome, runErr error) (ForkResult, error) {
	if runErr == nil && outcome.Succeeded() && run.pull {
		if err := s.deps.Puller.PullAndTag(ctx, outcome.Image, run.request.Source); err != nil {
			runErr = fmt.Errorf("pulling forked image: %w", err)
		}
	}

	status := jobs.StatusCompleted
	var errMsg string
	if runErr != nil {
		status = jobs.StatusFailed
		errMsg = runErr.Error()
	}
	// Recording must outlive a cancelled request.
	recordCtx := context.WithoutCancel(ctx)
	if err := s.deps.Jobs.Finish(recordCtx, run.job.ID, status, outcome.Image, errMsg); err != nil {
		run.logger.Warn("failed to record job outcome", "error", err)
	}
	job, err := s.deps.Jobs.Get(recordCtx, run.job.ID)
	if err != nil {
		job = run.job
		job.Status = status
		job.FullURL = outcome.Image
		job.Error = errMsg
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordFork(string(outcome.State), time.Since(run.started))
	}
	if s.deps.Publisher != nil {
		ev := notify.Event{
			JobID:      job.ID,
			State:      string(outcome.State),
			Source:     run.request.Source,
			Target:     run.request.Target,
			DistinctID: run.request.DistinctID,
			RunID:      outcome.RunID,
			RunNumber:  outcome.RunNumber,
			Conclusion: outcome.Conclusion,
			Image:      outcome.Image,
			Error:      errMsg,
			FinishedAt: time.Now().UTC(),
		}
		if err := s.deps.Publisher.Publish(recordCtx, ev); err != nil {
			run.logger.Warn("failed to publish job event", "error", err)
		}
	}

	if runErr != nil {
		run.logger.Error("fork failed", "state", outcome.State, "error", runErr)
	} else {
		run.logger.Info("fork finished", "state", outcome.State, "image", outcome.Image)
	}
	return ForkResult{Job: job, Outcome: outcome}, runErr
}
