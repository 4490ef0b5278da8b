package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/waabox/dockworker/internal/domain"
)

// AuthExpiredError is returned when the token was rejected and reloading the
// settings did not produce a gateway that is accepted.
type AuthExpiredError struct {
	Provider string
	Err      error
}

func (e *AuthExpiredError) Error() string {
	msg := fmt.Sprintf("%s token rejected: run `dockworker login` or update GITHUB_TOKEN", e.Provider)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthExpiredError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrUnauthorized}
	}
	return []error{domain.ErrUnauthorized, e.Err}
}

// RefreshingGateway wraps a Gateway and handles 401 errors by rebuilding the
// inner gateway from fresh settings and retrying the call once. A long await
// survives a token rotated with `dockworker login` while it was running.
type RefreshingGateway struct {
	mu       sync.Mutex
	inner    domain.Gateway
	provider string
	rebuild  func() (domain.Gateway, error)
}

// Ensure RefreshingGateway implements Gateway.
var _ domain.Gateway = (*RefreshingGateway)(nil)

// NewRefreshingGateway creates a RefreshingGateway. rebuild is called on 401
// and must return a gateway built from the current settings.
func NewRefreshingGateway(inner domain.Gateway, providerName string, rebuild func() (domain.Gateway, error)) *RefreshingGateway {
	return &RefreshingGateway{inner: inner, provider: providerName, rebuild: rebuild}
}

func (rg *RefreshingGateway) current() domain.Gateway {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	return rg.inner
}

// retry runs call against the current gateway, rebuilding it once on 401.
func (rg *RefreshingGateway) retry(call func(domain.Gateway) error) error {
	err := call(rg.current())
	if err == nil || !errors.Is(err, domain.ErrUnauthorized) {
		return err
	}
	fresh, rebuildErr := rg.rebuild()
	if rebuildErr != nil {
		return &AuthExpiredError{Provider: rg.provider, Err: rebuildErr}
	}
	rg.mu.Lock()
	rg.inner = fresh
	rg.mu.Unlock()

	if err := call(fresh); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return &AuthExpiredError{Provider: rg.provider, Err: err}
		}
		return err
	}
	return nil
}

func (rg *RefreshingGateway) ListWorkflows(ctx context.Context) (domain.WorkflowList, error) {
	var result domain.WorkflowList
	err := rg.retry(func(gw domain.Gateway) error {
		var e error
		result, e = gw.ListWorkflows(ctx)
		return e
	})
	return result, err
}

func (rg *RefreshingGateway) ListRuns(ctx context.Context, workflowID int64, filter domain.RunFilter) (domain.RunList, error) {
	var result domain.RunList
	err := rg.retry(func(gw domain.Gateway) error {
		var e error
		result, e = gw.ListRuns(ctx, workflowID, filter)
		return e
	})
	return result, err
}

func (rg *RefreshingGateway) GetRun(ctx context.Context, runID int64) (domain.Run, error) {
	var result domain.Run
	err := rg.retry(func(gw domain.Gateway) error {
		var e error
		result, e = gw.GetRun(ctx, runID)
		return e
	})
	return result, err
}

func (rg *RefreshingGateway) CreateDispatch(ctx context.Context, workflowID int64, ref string, inputs map[string]string) error {
	return rg.retry(func(gw domain.Gateway) error {
		return gw.CreateDispatch(ctx, workflowID, ref, inputs)
	})
}
