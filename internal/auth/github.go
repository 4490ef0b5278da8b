package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const githubDefaultBaseURL = "https://github.com"

// ErrNoClientID is returned when no OAuth App client id is configured.
var ErrNoClientID = errors.New("github.client_id is not configured")

// scopes needed to dispatch workflows and read their runs.
var scopes = []string{"repo", "workflow"}

// DeviceCodeResponse holds the initial response from a device authorization request.
// It contains the code to show the user and the parameters needed for polling.
type DeviceCodeResponse struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Expiry          time.Time
	Interval        int // minimum polling interval in seconds
}

// GitHubDeviceFlow implements the OAuth 2.0 Device Authorization Flow for GitHub.
// See https://docs.github.com/en/apps/oauth-apps/building-oauth-apps/authorizing-oauth-apps#device-flow
type GitHubDeviceFlow struct {
	config oauth2.Config
	client *http.Client
}

// NewGitHubDeviceFlow creates a GitHubDeviceFlow.
// Pass an empty baseURL to use the real GitHub API. Pass a test server URL in tests.
func NewGitHubDeviceFlow(clientID string, baseURL string) (*GitHubDeviceFlow, error) {
	if clientID == "" {
		return nil, ErrNoClientID
	}
	if baseURL == "" {
		baseURL = githubDefaultBaseURL
	}
	deviceURL, err := url.JoinPath(baseURL, "/login/device/code")
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}
	tokenURL, err := url.JoinPath(baseURL, "/login/oauth/access_token")
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}
	return &GitHubDeviceFlow{
		config: oauth2.Config{
			ClientID: clientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: deviceURL,
				TokenURL:      tokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// RequestCode requests a device code and user code from GitHub.
// The returned UserCode must be shown to the user along with VerificationURI.
func (f *GitHubDeviceFlow) RequestCode(ctx context.Context) (DeviceCodeResponse, error) {
	da, err := f.config.DeviceAuth(f.withClient(ctx))
	if err != nil {
		return DeviceCodeResponse{}, fmt.Errorf("requesting device code: %w", err)
	}
	return DeviceCodeResponse{
		DeviceCode:      da.DeviceCode,
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		Expiry:          da.Expiry,
		Interval:        int(da.Interval),
	}, nil
}

// PollToken waits until the user authorizes the device code and returns the
// access token. Pending and slow_down answers are handled by re-polling;
// ctx cancels the wait.
func (f *GitHubDeviceFlow) PollToken(ctx context.Context, code DeviceCodeResponse) (string, error) {
	tok, err := f.config.DeviceAccessToken(f.withClient(ctx), &oauth2.DeviceAuthResponse{
		DeviceCode:      code.DeviceCode,
		UserCode:        code.UserCode,
		VerificationURI: code.VerificationURI,
		Expiry:          code.Expiry,
		Interval:        int64(code.Interval),
	})
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			switch rerr.ErrorCode {
			case "expired_token":
				return "", fmt.Errorf("device code expired, run dockworker login again")
			case "access_denied":
				return "", fmt.Errorf("access denied by user")
			}
		}
		return "", fmt.Errorf("polling token: %w", err)
	}
	return tok.AccessToken, nil
}

func (f *GitHubDeviceFlow) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}
