// Package api is the HTTP client for the relief backend: request status
// lookups and agent-swarm evaluations.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/youmna-rabie/aegis/internal/types"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit rate.Limit // requests per second; 0 disables limiting
	Burst     int
	Transport http.RoundTripper
}

// Client talks to {BaseURL}/request-status and {BaseURL}/evaluate.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter: limiter,
	}, nil
}

// RequestStatus fetches GET {base}/request-status/{id}.
func (c *Client) RequestStatus(ctx context.Context, requestID int64) (types.RequestStatus, error) {
	var st types.RequestStatus
	endpoint := c.baseURL.JoinPath("request-status", strconv.FormatInt(requestID, 10))
	if err := c.do(ctx, http.MethodGet, endpoint.String(), nil, &st); err != nil {
		return types.RequestStatus{}, err
	}
	return st, nil
}

// Evaluate asks the agent swarm to evaluate an aid request.
func (c *Client) Evaluate(ctx context.Context, req types.AidRequest) (types.EvaluationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return types.EvaluationResult{}, fmt.Errorf("encoding evaluate request: %w", err)
	}
	var res types.EvaluationResult
	endpoint := c.baseURL.JoinPath("evaluate")
	if err := c.do(ctx, http.MethodPost, endpoint.String(), body, &res); err != nil {
		return types.EvaluationResult{}, err
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return &HTTPError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}
