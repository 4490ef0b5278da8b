package service

import (
	"errors"
	"net/http"

	"github.com/waabox/dockworker/internal/config"
	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/jobs"
)

// Process exit codes for the CLI.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitWorkflowNotFound = 2
	ExitDispatchRejected = 3
	ExitRunFailed        = 4
	ExitTimeout          = 5
)

// ExitCode maps a Fork error to the CLI exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrWorkflowNotFound):
		return ExitWorkflowNotFound
	case errors.Is(err, domain.ErrDispatchRejected):
		return ExitDispatchRejected
	case errors.Is(err, domain.ErrRunFailed):
		return ExitRunFailed
	case errors.Is(err, domain.ErrTimeout):
		return ExitTimeout
	default:
		return ExitError
	}
}

// HTTPStatus maps a service error to the API response status.
func HTTPStatus(err error) int {
	var perr *domain.ProviderError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrWorkflowNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDispatchRejected):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRunFailed):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, config.ErrIncomplete), errors.Is(err, ErrPullUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
