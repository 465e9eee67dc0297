// Package client provides the request executor for the ActiveCampaign v3
// API: every request is admitted by a rate limit guard, and non-success
// responses are retried according to a RetryConfig.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/activecampaign-client/pkg/logging"
	"github.com/Sternrassler/activecampaign-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// APIPath is appended to the account URL to reach the v3 API.
const APIPath = "/api/3"

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ac_request_duration_seconds",
		Help:    "Duration of logical API requests (including retries) by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_errors_total",
		Help: "Total failed API attempts by class",
	}, []string{"class"})
)

// Client executes requests against the API under a shared rate limit.
type Client struct {
	httpClient *http.Client
	admitter   ratelimit.Admitter
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the account URL, e.g. "https://example.api-us1.com".
	BaseURL string

	// APIToken is sent in the Api-Token header.
	APIToken string

	// UserAgent header value.
	UserAgent string

	// Rate limiting. Ignored when Admitter is set.
	RateLimit  int           // Requests per window
	RateWindow time.Duration // Sliding window length

	// Admitter overrides the in-process guard, e.g. with a ratelimit.RedisGuard.
	Admitter ratelimit.Admitter

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	Retry RetryConfig
}

// DefaultConfig returns the configuration matching the API's documented
// quota of 5 requests per second.
func DefaultConfig(baseURL, apiToken string) Config {
	return Config{
		BaseURL:    baseURL,
		APIToken:   apiToken,
		UserAgent:  "activecampaign-client/0.1.0",
		RateLimit:  5,
		RateWindow: time.Second,
		Timeout:    30 * time.Second,
		Retry:      DefaultRetryConfig(),
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if cfg.APIToken == "" {
		return nil, fmt.Errorf("api token is required")
	}

	if cfg.Retry.Interval < 0 {
		return nil, fmt.Errorf("retry interval must be >= 0 (got %s)", cfg.Retry.Interval)
	}

	logger := logging.NewLogger(logging.ComponentClient)

	admitter := cfg.Admitter
	if admitter == nil {
		guard, err := ratelimit.NewGuard(cfg.RateLimit, cfg.RateWindow,
			logging.NewLogger(logging.ComponentRateLimit))
		if err != nil {
			return nil, fmt.Errorf("create rate limit guard: %w", err)
		}
		admitter = guard
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		admitter: admitter,
		baseURL:  strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), APIPath) + APIPath,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Request describes one logical API call.
type Request struct {
	Method string
	// Target is the path below /api/3 including any query string,
	// e.g. "/contacts?limit=100&offset=0&tagid=4".
	Target string
	Body   []byte
}

// Response is a fully read success response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Do performs req under the rate limit guard, retrying non-success
// responses per the retry configuration. With the default configuration
// it only fails when ctx ends, returning an error wrapping ErrCancelled.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	endpoint := endpointLabel(req.Target)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var resp *Response
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func(ctx context.Context) error {
		if err := c.admitter.Acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{
				Class:   ErrorClassNetwork,
				Method:  req.Method,
				Target:  req.Target,
				Message: "rate limit admission failed",
				Err:     err,
			}
		}

		var sendErr error
		resp, sendErr = c.send(ctx, req, endpoint)
		return sendErr
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// send performs a single HTTP attempt and reads the whole body.
func (c *Client) send(ctx context.Context, req Request, endpoint string) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Target, body)
	if err != nil {
		// Not an *APIError, so the retry loop gives up on it.
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Api-Token", c.config.APIToken)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("target", req.Target).
		Msg("Executing API request")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			Class:   ErrorClassNetwork,
			Method:  req.Method,
			Target:  req.Target,
			Message: "transport failure",
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Class:      ErrorClassNetwork,
			Method:     req.Method,
			Target:     req.Target,
			Message:    "read response body",
			Err:        err,
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	if class := classifyStatus(httpResp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Class:      class,
			Method:     req.Method,
			Target:     req.Target,
			Message:    httpResp.Status,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Target: target})
}

// Post performs a POST request with payload encoded as JSON.
func (c *Client) Post(ctx context.Context, target string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Target: target, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Target: target})
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// BaseURL returns the resolved API root including /api/3.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// endpointLabel reduces a target to its first path segment so that
// metric cardinality stays bounded ("/contacts/12/contactTags" -> "/contacts").
func endpointLabel(target string) string {
	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return "/" + path
}
