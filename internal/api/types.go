package api

import (
	"time"

	"github.com/waabox/dockworker/internal/jobs"
)

// TriggerRequest is the JSON body for POST /trigger.
type TriggerRequest struct {
	Source     string `json:"source"`
	Target     string `json:"target,omitempty"`
	Command    string `json:"command,omitempty"` // "fork" (default) or "pull"
	Workflow   string `json:"workflow,omitempty"`
	DistinctID string `json:"distinct_id,omitempty"`
	TestMode   bool   `json:"test_mode,omitempty"`
}

// TriggerResponse reports a finished (or, with ?async=true, located) fork.
type TriggerResponse struct {
	Job        jobs.Job `json:"job"`
	State      string   `json:"state,omitempty"`
	Conclusion string   `json:"conclusion,omitempty"`
	Image      string   `json:"image,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// WorkflowSummary is one entry of GET /workflows.
type WorkflowSummary struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowsResponse is returned by GET /workflows.
type WorkflowsResponse struct {
	Total     int               `json:"total"`
	Workflows []WorkflowSummary `json:"workflows"`
}

// RunSummary is one entry of GET /workflow/{id}/runs.
type RunSummary struct {
	ID         int64     `json:"id"`
	RunNumber  int64     `json:"run_number"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	Event      string    `json:"event"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunsResponse is returned by GET /workflow/{id}/runs.
type RunsResponse struct {
	TotalCount   int          `json:"total_count"`
	WorkflowRuns []RunSummary `json:"workflow_runs"`
}

// JobsResponse is returned by GET /jobs.
type JobsResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
