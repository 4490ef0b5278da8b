package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/waabox/dockworker/internal/domain"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"

	defaultRunEvent   = "workflow_dispatch"
	defaultRunPerPage = 3
	workflowsPerPage  = 100

	// maxErrorBody bounds how much of an error response is kept for diagnostics.
	maxErrorBody = 4 << 10
)

// Options configures an Adapter.
type Options struct {
	Token string
	// BaseURL is used for testing; leave empty to use the real GitHub API.
	BaseURL string
	// ProxyURL routes every request through an HTTP(S) proxy when set.
	ProxyURL string
	Timeout  time.Duration
}

// Adapter implements domain.Gateway for GitHub Actions.
type Adapter struct {
	repo    domain.Repository
	baseURL string
	client  *http.Client
}

// Ensure Adapter fully implements domain.Gateway.
var _ domain.Gateway = (*Adapter)(nil)

// NewAdapter creates a GitHub Actions adapter for the given repository.
func NewAdapter(repo domain.Repository, opts Options) (*Adapter, error) {
	if repo.Owner == "" || repo.Name == "" {
		return nil, fmt.Errorf("github repository owner and name are required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client, err := newHTTPClient(opts.Token, opts.ProxyURL, timeout)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		repo:    repo,
		baseURL: baseURL,
		client:  client,
	}, nil
}

// ListWorkflows returns the repository's workflows in the order GitHub returns them.
// Pages are followed until total_count workflows are collected or a page comes back empty.
func (a *Adapter) ListWorkflows(ctx context.Context) (domain.WorkflowList, error) {
	var list domain.WorkflowList
	for page := 1; ; page++ {
		apiURL := fmt.Sprintf("%s/actions/workflows?per_page=%d&page=%d", a.repoURL(), workflowsPerPage, page)
		var result struct {
			TotalCount int        `json:"total_count"`
			Workflows  []workflow `json:"workflows"`
		}
		if err := a.get(ctx, "list workflows", apiURL, &result); err != nil {
			return domain.WorkflowList{}, err
		}
		list.TotalCount = result.TotalCount
		for _, w := range result.Workflows {
			list.Workflows = append(list.Workflows, w.toWorkflow())
		}
		if len(result.Workflows) == 0 || len(list.Workflows) >= result.TotalCount {
			break
		}
	}
	if list.Workflows == nil {
		list.Workflows = []domain.Workflow{}
	}
	return list, nil
}

// ListRuns returns a page of runs for one workflow, newest first.
// Zero filter fields default to workflow_dispatch events, 3 per page, page 1.
func (a *Adapter) ListRuns(ctx context.Context, workflowID int64, filter domain.RunFilter) (domain.RunList, error) {
	query := url.Values{}
	query.Set("event", defaultRunEvent)
	if filter.Event != "" {
		query.Set("event", filter.Event)
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultRunPerPage
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}

	apiURL := fmt.Sprintf("%s/actions/workflows/%d/runs?%s", a.repoURL(), workflowID, query.Encode())
	var result struct {
		TotalCount   int           `json:"total_count"`
		WorkflowRuns []workflowRun `json:"workflow_runs"`
	}
	if err := a.get(ctx, "list runs", apiURL, &result); err != nil {
		return domain.RunList{}, err
	}
	list := domain.RunList{
		TotalCount: result.TotalCount,
		Runs:       make([]domain.Run, len(result.WorkflowRuns)),
	}
	for i, run := range result.WorkflowRuns {
		list.Runs[i] = run.toRun()
	}
	return list, nil
}

// GetRun returns a single workflow run with its current status and conclusion.
func (a *Adapter) GetRun(ctx context.Context, runID int64) (domain.Run, error) {
	apiURL := fmt.Sprintf("%s/actions/runs/%d", a.repoURL(), runID)
	var run workflowRun
	if err := a.get(ctx, "get run", apiURL, &run); err != nil {
		return domain.Run{}, err
	}
	return run.toRun(), nil
}

// CreateDispatch fires a workflow_dispatch event on ref with the given inputs.
func (a *Adapter) CreateDispatch(ctx context.Context, workflowID int64, ref string, inputs map[string]string) error {
	const op = "create dispatch"
	body, err := json.Marshal(struct {
		Ref    string            `json:"ref"`
		Inputs map[string]string `json:"inputs"`
	}{Ref: ref, Inputs: inputs})
	if err != nil {
		return &domain.ProviderError{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
	}
	apiURL := fmt.Sprintf("%s/actions/workflows/%d/dispatches", a.repoURL(), workflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return &domain.ProviderError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	cause := domain.ErrDispatchRejected
	if resp.StatusCode == http.StatusUnauthorized {
		cause = fmt.Errorf("%w: %w", domain.ErrDispatchRejected, domain.ErrUnauthorized)
	}
	return &domain.ProviderError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       readErrorBody(resp.Body),
		Err:        cause,
	}
}

func (a *Adapter) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", a.baseURL, url.PathEscape(a.repo.Owner), url.PathEscape(a.repo.Name))
}

func (a *Adapter) get(ctx context.Context, op string, apiURL string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}

	resp, err := a.do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body), Err: domain.ErrUnauthorized}
	}
	if resp.StatusCode >= 400 {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (a *Adapter) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(bytes.TrimSpace(b))
}

// workflow is the raw GitHub API response shape for a workflow.
type workflow struct {
	ID        int64  `json:"id"`
	NodeID    string `json:"node_id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	URL       string `json:"url"`
	HTMLURL   string `json:"html_url"`
	BadgeURL  string `json:"badge_url"`
}

func (w workflow) toWorkflow() domain.Workflow {
	return domain.Workflow{
		ID:        w.ID,
		NodeID:    w.NodeID,
		Name:      w.Name,
		Path:      w.Path,
		State:     w.State,
		CreatedAt: parseTime(w.CreatedAt),
		UpdatedAt: parseTime(w.UpdatedAt),
		URL:       w.URL,
		HTMLURL:   w.HTMLURL,
		BadgeURL:  w.BadgeURL,
	}
}

// workflowRun is the raw GitHub API response shape for a workflow run.
type workflowRun struct {
	ID         int64  `json:"id"`
	RunNumber  int64  `json:"run_number"`
	Name       string `json:"name"`
	Event      string `json:"event"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (r workflowRun) toRun() domain.Run {
	return domain.Run{
		ID:         r.ID,
		RunNumber:  r.RunNumber,
		Name:       r.Name,
		Status:     domain.RunStatus(r.Status),
		Conclusion: r.Conclusion,
		Event:      r.Event,
		HTMLURL:    r.HTMLURL,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
