package domain

import "time"

// RunStatus is the lifecycle status GitHub reports for a workflow run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunWaiting    RunStatus = "waiting"
	RunRequested  RunStatus = "requested"
	RunPending    RunStatus = "pending"
	RunCompleted  RunStatus = "completed"
)

// Terminal reports whether no further status transitions can happen.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted
}

// ConclusionSuccess is the only conclusion that counts as a successful copy.
const ConclusionSuccess = "success"

// Workflow identifies an automation definition in the pusher repository.
type Workflow struct {
	ID        int64
	NodeID    string
	Name      string
	Path      string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
	URL       string
	HTMLURL   string
	BadgeURL  string
}

// WorkflowList is the provider's list of workflows, in provider order.
type WorkflowList struct {
	TotalCount int
	Workflows  []Workflow
}

// Run is one execution of a workflow.
type Run struct {
	ID         int64
	RunNumber  int64
	Name       string
	Status     RunStatus
	Conclusion string
	Event      string
	HTMLURL    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Succeeded reports whether the run completed with a success conclusion.
func (r Run) Succeeded() bool {
	return r.Status.Terminal() && r.Conclusion == ConclusionSuccess
}

// RunList is a page of runs, newest first.
type RunList struct {
	TotalCount int
	Runs       []Run
}

// RunFilter narrows a run listing. Zero values fall back to the provider defaults.
type RunFilter struct {
	Status  string
	Event   string
	PerPage int
	Page    int
}
