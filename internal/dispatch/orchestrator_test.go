package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/domain/mocks"
)

const pusherID int64 = 11

var (
	pusher        = domain.Workflow{ID: pusherID, Name: "Image Pusher", State: "active"}
	workflowsList = domain.WorkflowList{
		TotalCount: 2,
		Workflows: []domain.Workflow{
			{ID: 3, Name: "Lint"},
			pusher,
		},
	}
	dispatchFilter = domain.RunFilter{Event: "workflow_dispatch", PerPage: 3, Page: 1}
)

func testSettings() Settings {
	return Settings{
		DefaultWorkflow: "Image Pusher",
		Registry:        "registry.example.com",
		Namespace:       "mirror",
		PollInterval:    0,
		Timeout:         5 * time.Second,
	}
}

func testRequest(t *testing.T) domain.ImageTransferRequest {
	t.Helper()
	req, err := domain.NewImageTransferRequest("ubuntu:20.04", "", "a1b2c3")
	require.NoError(t, err)
	return req
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runs(rs ...domain.Run) domain.RunList {
	return domain.RunList{TotalCount: len(rs), Runs: rs}
}

func TestForkImage_Succeeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	req := testRequest(t)

	older := runs(
		domain.Run{ID: 190, RunNumber: 19, Name: "push alpine [zzzzzz]"},
		domain.Run{ID: 180, RunNumber: 18, Name: "push nginx [yyyyyy]"},
	)
	located := runs(
		domain.Run{ID: 200, RunNumber: 20, Name: "push ubuntu:20.04 [a1b2c3]", Status: domain.RunQueued},
		domain.Run{ID: 190, RunNumber: 19, Name: "push alpine [zzzzzz]"},
	)

	gomock.InOrder(
		gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(older, nil),
		gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", req.Inputs()).Return(nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(older, nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(located, nil),
		gw.EXPECT().GetRun(gomock.Any(), int64(200)).Return(domain.Run{ID: 200, RunNumber: 20, Status: domain.RunInProgress}, nil),
		gw.EXPECT().GetRun(gomock.Any(), int64(200)).Return(domain.Run{ID: 200, RunNumber: 20, Status: domain.RunCompleted, Conclusion: "success"}, nil),
	)

	var stages []Stage
	var locatedCalls int
	o := New(gw, testSettings(), quietLogger())
	outcome, err := o.ForkImage(context.Background(), req, Options{
		Progress:  func(p Progress) { stages = append(stages, p.Stage) },
		OnLocated: func(tr Tracked) { locatedCalls++; assert.Equal(t, int64(20), tr.RunNumber) },
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, outcome.State)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "registry.example.com/mirror/ubuntu:20.04", outcome.Image)
	assert.Equal(t, int64(200), outcome.RunID)
	assert.Equal(t, int64(20), outcome.RunNumber)
	assert.Equal(t, "success", outcome.Conclusion)
	assert.Equal(t, pusher, outcome.Workflow)
	assert.Equal(t, 1, locatedCalls)
	assert.Equal(t, []Stage{StageResolve, StageSnapshot, StageDispatch, StageLocate, StageLocate, StageAwait, StageDone}, stages)
}

func TestForkImage_ExplicitWorkflowNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)

	o := New(gw, testSettings(), quietLogger())
	outcome, err := o.ForkImage(context.Background(), testRequest(t), Options{Workflow: "Missing"})

	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	assert.Equal(t, domain.OutcomeDispatchRejected, outcome.State)
	assert.ErrorIs(t, outcome.Err, domain.ErrWorkflowNotFound)
	assert.Equal(t, domain.OutcomeDispatchRejected, StateOf(err))
}

func TestForkImage_EmptyWorkflowListNeverDispatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(domain.WorkflowList{}, nil)

	o := New(gw, testSettings(), quietLogger())
	outcome, err := o.ForkImage(context.Background(), testRequest(t), Options{})

	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	assert.Equal(t, domain.OutcomeDispatchRejected, outcome.State)
}

func TestResolveWorkflow_FirstExactMatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(domain.WorkflowList{Workflows: []domain.Workflow{
		{ID: 1, Name: "Image Pusher (old)"},
		{ID: 2, Name: "Image Pusher"},
		{ID: 3, Name: "Image Pusher"},
	}}, nil)

	o := New(gw, testSettings(), quietLogger())
	w, err := o.ResolveWorkflow(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.ID)
}

func TestResolveWorkflow_NoDefaultConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)

	settings := testSettings()
	settings.DefaultWorkflow = ""
	_, err := New(gw, settings, quietLogger()).ResolveWorkflow(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestForkImage_DispatchRejectedStopsBeforeLocate(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	rejection := &domain.ProviderError{Op: "create dispatch", StatusCode: 422, Body: "Unexpected inputs", Err: domain.ErrDispatchRejected}

	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil).Times(1)
	gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(rejection)

	o := New(gw, testSettings(), quietLogger())
	outcome, err := o.ForkImage(context.Background(), testRequest(t), Options{})

	assert.ErrorIs(t, err, domain.ErrDispatchRejected)
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 422, perr.StatusCode)
	assert.Equal(t, domain.OutcomeDispatchRejected, outcome.State)
	assert.Zero(t, outcome.RunID)
}

func TestForkImage_TransportErrorOnDispatchIsNotRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	transportErr := &domain.ProviderError{Op: "create dispatch", Err: errors.New("connection reset")}
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil)
	gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(transportErr)

	outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(context.Background(), testRequest(t), Options{})

	assert.NotErrorIs(t, err, domain.ErrDispatchRejected)
	var perr *domain.ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.OutcomeFailed, outcome.State)
}

func TestForkImage_CancelledWhileResolvingIsFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	gw.EXPECT().ListWorkflows(gomock.Any()).DoAndReturn(func(context.Context) (domain.WorkflowList, error) {
		cancel()
		return domain.WorkflowList{}, context.Canceled
	})

	outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(ctx, testRequest(t), Options{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.OutcomeFailed, outcome.State)
}

func TestForkImage_AbsentBaselineAcceptsFirstRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	req := testRequest(t)

	gomock.InOrder(
		gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil),
		gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(domain.Run{ID: 1, RunNumber: 1, Name: "push [a1b2c3]"}), nil),
		gw.EXPECT().GetRun(gomock.Any(), int64(1)).Return(domain.Run{ID: 1, RunNumber: 1, Status: domain.RunCompleted, Conclusion: "success"}, nil),
	)

	outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.RunNumber)
}

func TestForkImage_IgnoresConcurrentRunsOfOtherRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)

	gomock.InOrder(
		gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(domain.Run{ID: 190, RunNumber: 19}), nil),
		gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil),
		gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(
			domain.Run{ID: 210, RunNumber: 21, Name: "push nginx [ffffff]"},
			domain.Run{ID: 200, RunNumber: 20, Name: "push ubuntu [a1b2c3]"},
		), nil),
		gw.EXPECT().GetRun(gomock.Any(), int64(200)).Return(domain.Run{ID: 200, RunNumber: 20, Status: domain.RunCompleted, Conclusion: "success"}, nil),
	)

	outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(context.Background(), testRequest(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(200), outcome.RunID)
}

func TestForkImage_FailedConclusion(t *testing.T) {
	for _, conclusion := range []string{"failure", "cancelled", "timed_out", ""} {
		t.Run(conclusion, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			gw := mocks.NewMockGateway(ctrl)
			gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
			gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil)
			gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil)
			gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(domain.Run{ID: 5, RunNumber: 5, Name: "[a1b2c3]"}), nil)
			gw.EXPECT().GetRun(gomock.Any(), int64(5)).Return(domain.Run{ID: 5, RunNumber: 5, Status: domain.RunCompleted, Conclusion: conclusion}, nil)

			outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(context.Background(), testRequest(t), Options{})

			assert.ErrorIs(t, err, domain.ErrRunFailed)
			assert.Equal(t, domain.OutcomeFailed, outcome.State)
			assert.Equal(t, conclusion, outcome.Conclusion)
			assert.Empty(t, outcome.Image)
		})
	}
}

func TestForkImage_TimesOutWhileLocating(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(domain.Run{ID: 190, RunNumber: 19}), nil).AnyTimes()

	settings := testSettings()
	settings.PollInterval = time.Millisecond
	settings.Timeout = 30 * time.Millisecond

	outcome, err := New(gw, settings, quietLogger()).ForkImage(context.Background(), testRequest(t), Options{})

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.State)
}

func TestForkImage_TimesOutWhileAwaiting(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil)
	gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(domain.Run{ID: 5, RunNumber: 5, Name: "[a1b2c3]"}), nil)
	gw.EXPECT().GetRun(gomock.Any(), int64(5)).Return(domain.Run{ID: 5, RunNumber: 5, Status: domain.RunInProgress}, nil).AnyTimes()

	settings := testSettings()
	settings.PollInterval = time.Millisecond
	settings.Timeout = 30 * time.Millisecond

	outcome, err := New(gw, settings, quietLogger()).ForkImage(context.Background(), testRequest(t), Options{})

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.State)
	assert.Equal(t, int64(5), outcome.RunID)
}

func TestForkImage_MaxLocateAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil)
	// One snapshot plus exactly three locate attempts.
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil).Times(4)

	settings := testSettings()
	settings.MaxLocateAttempts = 3

	outcome, err := New(gw, settings, quietLogger()).ForkImage(context.Background(), testRequest(t), Options{})

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.State)
}

func TestForkImage_DryRunSkipsDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	newest := runs(
		domain.Run{ID: 190, RunNumber: 19, Name: "push alpine [zzzzzz]"},
		domain.Run{ID: 180, RunNumber: 18, Name: "push nginx [yyyyyy]"},
	)
	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(newest, nil).Times(2)
	gw.EXPECT().CreateDispatch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	gw.EXPECT().GetRun(gomock.Any(), int64(190)).Return(domain.Run{ID: 190, RunNumber: 19, Status: domain.RunCompleted, Conclusion: "success"}, nil)

	outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(context.Background(), testRequest(t), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(19), outcome.RunNumber)
}

func TestForkImage_CallerCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.EXPECT().ListWorkflows(gomock.Any()).Return(workflowsList, nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(), nil)
	gw.EXPECT().CreateDispatch(gomock.Any(), pusherID, "main", gomock.Any()).Return(nil)
	gw.EXPECT().ListRuns(gomock.Any(), pusherID, dispatchFilter).Return(runs(domain.Run{ID: 5, RunNumber: 5, Name: "[a1b2c3]"}), nil)
	gw.EXPECT().GetRun(gomock.Any(), int64(5)).DoAndReturn(func(context.Context, int64) (domain.Run, error) {
		cancel()
		return domain.Run{ID: 5, RunNumber: 5, Status: domain.RunQueued}, nil
	})

	outcome, err := New(gw, testSettings(), quietLogger()).ForkImage(ctx, testRequest(t), Options{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.OutcomeFailed, outcome.State)
}

func TestTriggerThenAwait_ShareTimeoutBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)

	settings := testSettings()
	settings.Timeout = time.Minute
	o := New(gw, settings, quietLogger())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return base }

	gw.EXPECT().GetRun(gomock.Any(), int64(5)).Times(0)
	tracked := Tracked{Request: testRequest(t), RunID: 5, Started: base}

	outcome, err := o.Await(context.Background(), tracked, Options{})
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.State)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, domain.OutcomeFailed, StateOf(errors.New("boom")))
	assert.Equal(t, domain.OutcomeFailed, StateOf(domain.ErrRunFailed))
	assert.Equal(t, domain.OutcomeTimedOut, StateOf(domain.ErrTimeout))
	assert.Equal(t, domain.OutcomeDispatchRejected, StateOf(&stageError{stage: StageSnapshot, err: errors.New("list runs: 500")}))
	assert.Equal(t, domain.OutcomeTimedOut, StateOf(&stageError{stage: StageResolve, err: domain.ErrTimeout}))
	assert.Equal(t, domain.OutcomeFailed, StateOf(&stageError{stage: StageSnapshot, err: context.Canceled}))
	assert.Equal(t, domain.OutcomeDispatchRejected, StateOf(&stageError{stage: StageDispatch, err: domain.ErrDispatchRejected}))
	assert.Equal(t, domain.OutcomeFailed, StateOf(&stageError{stage: StageDispatch, err: errors.New("connection reset")}))
}
