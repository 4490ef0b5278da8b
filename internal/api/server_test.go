package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/dockworker/internal/api"
	"github.com/waabox/dockworker/internal/dispatch"
	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/jobs"
	"github.com/waabox/dockworker/internal/log"
	"github.com/waabox/dockworker/internal/metrics"
	"github.com/waabox/dockworker/internal/service"
)

type fakeForker struct {
	forkReq   service.ForkRequest
	forkCalls int
	startReq  service.ForkRequest
	result    service.ForkResult
	err       error

	workflows domain.WorkflowList
	runs      domain.RunList
	runsFor   int64
	filter    domain.RunFilter

	jobs  []jobs.Job
	limit int
}

func (f *fakeForker) Fork(_ context.Context, req service.ForkRequest, _ func(dispatch.Progress)) (service.ForkResult, error) {
	f.forkCalls++
	f.forkReq = req
	return f.result, f.err
}

func (f *fakeForker) StartFork(_ context.Context, req service.ForkRequest) (jobs.Job, <-chan service.ForkResult, error) {
	f.startReq = req
	ch := make(chan service.ForkResult, 1)
	ch <- f.result
	close(ch)
	return f.result.Job, ch, f.err
}

func (f *fakeForker) ListWorkflows(context.Context) (domain.WorkflowList, error) {
	return f.workflows, f.err
}

func (f *fakeForker) ListRuns(_ context.Context, workflowID int64, filter domain.RunFilter) (domain.RunList, error) {
	f.runsFor = workflowID
	f.filter = filter
	return f.runs, f.err
}

func (f *fakeForker) Jobs(_ context.Context, limit int) ([]jobs.Job, error) {
	f.limit = limit
	return f.jobs, f.err
}

func (f *fakeForker) Job(_ context.Context, id int64) (jobs.Job, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return jobs.Job{}, fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
}

func newTestServer(t *testing.T, f *fakeForker) *httptest.Server {
	t.Helper()
	srv := api.New(api.Config{Listen: ":0"}, f, metrics.New(), log.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeForker{})

	resp := get(t, ts.URL+"/healthz")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", decode[api.HealthzResponse](t, resp).Status)
}

func TestTrigger_SynchronousForkReturnsOutcome(t *testing.T) {
	f := &fakeForker{result: service.ForkResult{
		Job: jobs.Job{ID: 7, Source: "ubuntu:20.04", Status: jobs.StatusCompleted},
		Outcome: domain.DispatchOutcome{
			State:      domain.OutcomeSucceeded,
			Conclusion: "success",
			Image:      "registry.example.com/mirror/ubuntu:20.04",
		},
	}}
	ts := newTestServer(t, f)

	resp := post(t, ts.URL+"/trigger", `{"source":"ubuntu:20.04","workflow":"Pusher","test_mode":true}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.TriggerResponse](t, resp)
	assert.Equal(t, int64(7), body.Job.ID)
	assert.Equal(t, "succeeded", body.State)
	assert.Equal(t, "registry.example.com/mirror/ubuntu:20.04", body.Image)
	assert.Equal(t, service.ForkRequest{Source: "ubuntu:20.04", Workflow: "Pusher", DryRun: true}, f.forkReq)
}

func TestTrigger_PullCommandRequestsPull(t *testing.T) {
	f := &fakeForker{}
	ts := newTestServer(t, f)

	post(t, ts.URL+"/trigger", `{"source":"nginx","command":"pull"}`)

	assert.True(t, f.forkReq.Pull)
}

func TestTrigger_RejectsUnknownCommand(t *testing.T) {
	f := &fakeForker{}
	ts := newTestServer(t, f)

	resp := post(t, ts.URL+"/trigger", `{"source":"nginx","command":"delete"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[api.ErrorResponse](t, resp).Error, "invalid command")
	assert.Zero(t, f.forkCalls)
}

func TestTrigger_RejectsBadBody(t *testing.T) {
	ts := newTestServer(t, &fakeForker{})

	for _, body := range []string{`not json`, `{"target":"x"}`, `{"source":"  "}`} {
		resp := post(t, ts.URL+"/trigger", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestTrigger_MapsFailuresToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid image", domain.ErrInvalidRequest, http.StatusBadRequest},
		{"workflow not found", domain.ErrWorkflowNotFound, http.StatusNotFound},
		{"dispatch rejected", domain.ErrDispatchRejected, http.StatusBadGateway},
		{"run failed", domain.ErrRunFailed, http.StatusInternalServerError},
		{"timeout", domain.ErrTimeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeForker{
				result: service.ForkResult{Job: jobs.Job{ID: 3, Status: jobs.StatusFailed}},
				err:    fmt.Errorf("fork: %w", tt.err),
			}
			ts := newTestServer(t, f)

			resp := post(t, ts.URL+"/trigger", `{"source":"nginx"}`)

			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[api.TriggerResponse](t, resp)
			assert.Equal(t, int64(3), body.Job.ID)
			assert.Contains(t, body.Error, tt.err.Error())
		})
	}
}

func TestTrigger_AsyncReturnsAccepted(t *testing.T) {
	f := &fakeForker{result: service.ForkResult{Job: jobs.Job{ID: 11, Status: jobs.StatusRunning, RunNumber: 42}}}
	ts := newTestServer(t, f)

	resp := post(t, ts.URL+"/trigger?async=true", `{"source":"nginx","distinct_id":"abc123"}`)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[api.TriggerResponse](t, resp)
	assert.Equal(t, int64(42), body.Job.RunNumber)
	assert.Equal(t, "running", body.State)
	assert.Equal(t, "abc123", f.startReq.DistinctID)
	assert.Zero(t, f.forkCalls)
}

func TestListWorkflows(t *testing.T) {
	f := &fakeForker{workflows: domain.WorkflowList{
		TotalCount: 2,
		Workflows: []domain.Workflow{
			{ID: 1, Name: "Pusher", State: "active", Path: ".github/workflows/p.yml"},
			{ID: 2, Name: "Other", State: "disabled_manually"},
		},
	}}
	ts := newTestServer(t, f)

	resp := get(t, ts.URL+"/workflows")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[api.WorkflowsResponse](t, resp)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Workflows, 2)
	assert.Equal(t, "Pusher", body.Workflows[0].Name)
	assert.Equal(t, "disabled_manually", body.Workflows[1].State)
}

func TestListWorkflows_ProviderFailure(t *testing.T) {
	f := &fakeForker{err: &domain.ProviderError{Op: "list workflows", StatusCode: 500}}
	ts := newTestServer(t, f)

	resp := get(t, ts.URL+"/workflows")

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestListRuns_DefaultsAndFilters(t *testing.T) {
	f := &fakeForker{runs: domain.RunList{TotalCount: 9, Runs: []domain.Run{
		{ID: 100, RunNumber: 9, Name: "copy [abc123]", Status: domain.RunCompleted, Conclusion: "success"},
	}}}
	ts := newTestServer(t, f)

	resp := get(t, ts.URL+"/workflow/55/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(55), f.runsFor)
	assert.Equal(t, domain.RunFilter{PerPage: 3, Page: 1}, f.filter)
	body := decode[api.RunsResponse](t, resp)
	assert.Equal(t, 9, body.TotalCount)
	require.Len(t, body.WorkflowRuns, 1)
	assert.Equal(t, "completed", body.WorkflowRuns[0].Status)

	get(t, ts.URL+"/workflow/55/runs?status=in_progress&per_page=10&page=2")
	assert.Equal(t, domain.RunFilter{Status: "in_progress", PerPage: 10, Page: 2}, f.filter)
}

func TestListRuns_RejectsBadParams(t *testing.T) {
	ts := newTestServer(t, &fakeForker{})

	for _, path := range []string{"/workflow/abc/runs", "/workflow/1/runs?per_page=0", "/workflow/1/runs?page=x"} {
		resp := get(t, ts.URL+path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestJobs(t *testing.T) {
	f := &fakeForker{jobs: []jobs.Job{{ID: 2, Source: "b"}, {ID: 1, Source: "a"}}}
	ts := newTestServer(t, f)

	resp := get(t, ts.URL+"/jobs?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, f.limit)
	assert.Len(t, decode[api.JobsResponse](t, resp).Jobs, 2)

	resp = get(t, ts.URL+"/jobs/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a", decode[jobs.Job](t, resp).Source)

	assert.Equal(t, http.StatusNotFound, get(t, ts.URL+"/jobs/99").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/jobs/x").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, ts.URL+"/jobs?limit=-1").StatusCode)
}

func TestJobs_EmptyListIsArray(t *testing.T) {
	ts := newTestServer(t, &fakeForker{})

	resp := get(t, ts.URL+"/jobs")

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["jobs"]))
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	ts := newTestServer(t, &fakeForker{})

	get(t, ts.URL+"/healthz")
	resp := get(t, ts.URL+"/metrics")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `path="/healthz"`)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	srv := api.New(api.Config{Listen: "127.0.0.1:0"}, &fakeForker{}, nil, log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}
