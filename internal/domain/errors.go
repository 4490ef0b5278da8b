package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned by providers when the API responds with HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrWorkflowNotFound means the requested or default workflow name is not
	// among the repository's workflows.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrDispatchRejected means the provider answered the dispatch with
	// anything but 204 No Content.
	ErrDispatchRejected = errors.New("dispatch rejected")

	// ErrRunFailed means the tracked run completed with a non-success conclusion.
	ErrRunFailed = errors.New("workflow run failed")

	// ErrInvalidRequest means the caller supplied an empty or malformed image
	// reference.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTimeout means polling exceeded its bound before the run finished.
	ErrTimeout = errors.New("timed out waiting for workflow run")
)

// ProviderError describes a failed or malformed provider response.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("github %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
