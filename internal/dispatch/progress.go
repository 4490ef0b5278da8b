package dispatch

import "github.com/waabox/dockworker/internal/domain"

// Stage names a step of the orchestration state machine.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageSnapshot Stage = "snapshot"
	StageDispatch Stage = "dispatch"
	StageLocate   Stage = "locate"
	StageAwait    Stage = "await"
	StageDone     Stage = "done"
)

func (s Stage) preDispatch() bool {
	return s == StageResolve || s == StageSnapshot || s == StageDispatch
}

// Progress is an observability event; it never changes control flow.
type Progress struct {
	Stage     Stage
	Message   string
	Workflow  domain.Workflow
	RunID     int64
	RunNumber int64
	Status    domain.RunStatus
}
