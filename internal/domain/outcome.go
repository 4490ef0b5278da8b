package domain

// OutcomeState is the terminal state of one orchestration call.
type OutcomeState string

const (
	OutcomeSucceeded        OutcomeState = "succeeded"
	OutcomeFailed           OutcomeState = "failed"
	OutcomeTimedOut         OutcomeState = "timed-out"
	OutcomeDispatchRejected OutcomeState = "dispatch-rejected"
)

// DispatchOutcome is the result of one ForkImage call. State is always set.
type DispatchOutcome struct {
	State      OutcomeState
	Request    ImageTransferRequest
	Workflow   Workflow
	RunID      int64
	RunNumber  int64
	Conclusion string
	// Image is the fully-qualified pullable target; set only on success.
	Image string
	Err   error
}

// Succeeded reports whether the run finished with a success conclusion.
func (o DispatchOutcome) Succeeded() bool {
	return o.State == OutcomeSucceeded
}
