// Package health probes the deployed application's readiness endpoint.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a single probe.
const DefaultRequestTimeout = 10 * time.Second

// UserAgent identifies probe requests in the application's access logs.
const UserAgent = "atomdeploy-health/1.0"

// HTTPProber implements deployment.Prober with plain HTTP GET requests.
type HTTPProber struct {
	// Method is the HTTP method to use (default: GET)
	Method string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPProber creates a prober whose requests time out after timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPProber{
		Method:  http.MethodGet,
		Headers: map[string]string{"User-Agent": UserAgent},
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Probe performs one request. Only a 2xx response is healthy.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, p.Method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range p.Headers {
		// net/http only honours req.Host for the Host header
		if http.CanonicalHeaderKey(key) == "Host" {
			req.Host = value
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused by the next attempt
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d %s (expected 2xx)", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

// WithHeader adds a custom HTTP header
func (p *HTTPProber) WithHeader(key, value string) *HTTPProber {
	p.Headers[key] = value
	return p
}
