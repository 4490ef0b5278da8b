package github

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// newHTTPClient builds the client stack: proxy-aware base transport, traced
// by otelhttp, authenticated with a static bearer token.
func newHTTPClient(token string, proxyURL string, timeout time.Duration) (*http.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", proxyURL)
		}
		base.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   otelhttp.NewTransport(base),
		},
	}, nil
}
