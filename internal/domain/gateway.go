package domain

import "context"

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/waabox/dockworker/internal/domain Gateway

// Gateway is the port to the workflow-automation provider.
// Each call is a single synchronous request; callers own any re-polling.
type Gateway interface {
	ListWorkflows(ctx context.Context) (WorkflowList, error)
	ListRuns(ctx context.Context, workflowID int64, filter RunFilter) (RunList, error)
	GetRun(ctx context.Context, runID int64) (Run, error)
	// CreateDispatch returns nil only when the provider accepted the event
	// with 204 No Content.
	CreateDispatch(ctx context.Context, workflowID int64, ref string, inputs map[string]string) error
}
