// Package client provides the HTTP client for the legacy upstream API,
// its error taxonomy and the retry executor that wraps upstream calls.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_requests_total",
		Help: "Total upstream requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legacy_request_duration_seconds",
		Help:    "Upstream request duration in seconds by route",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// maxBodyBytes bounds how much of an upstream body is read.
const maxBodyBytes = 10 << 20

// HeaderPages carries the total page count of a paginated list response.
const HeaderPages = "X-Pages"

// Client performs single upstream round trips. It does not retry; wrap calls
// with a Retrier for that.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the legacy API, e.g. "https://legacy.example.com/api"
	BaseURL string

	// Timeout bounds each individual attempt
	Timeout time.Duration

	// User-Agent header sent with every request
	UserAgent string

	// Headers are static headers (e.g., auth) added to every request
	Headers map[string]string

	// HTTPClient overrides the underlying transport (optional)
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		Timeout:   10 * time.Second,
		UserAgent: userAgent,
	}
}

// Request describes one upstream GET.
type Request struct {
	// Route is a low-cardinality label for metrics, e.g. "/customers/{id}"
	Route string

	// Path is appended to the base URL, e.g. "/customers/C1". It must be
	// escaped.
	Path string

	// Query parameters
	Query url.Values
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Pages returns the total page count advertised by the response, or 1.
func (r *Response) Pages() int {
	if r == nil {
		return 1
	}
	n, err := strconv.Atoi(r.Header.Get(HeaderPages))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https (got %q)", base.Scheme)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-attempt deadlines come from the request context.
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "upstream-client").Logger(),
	}, nil
}

// Get performs a single GET against the upstream and reads the whole body.
// Non-2xx statuses, transport failures and attempt timeouts are returned as
// *UpstreamError. If ctx itself is done, ctx.Err() is returned instead.
func (c *Client) Get(ctx context.Context, r Request) (*Response, error) {
	route := r.Route
	if route == "" {
		route = r.Path
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.resolve(r.Path, r.Query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	c.logger.Debug().
		Str("endpoint", r.Path).
		Str("method", req.Method).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			requestsTotal.WithLabelValues(route, "cancelled").Inc()
			return nil, ctxErr
		}

		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", r.Path).Msg("Upstream request failed")

		return nil, &UpstreamError{
			Endpoint: r.Path,
			Class:    ErrorClassNetwork,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", r.Path).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")

		return nil, &UpstreamError{
			Endpoint:   r.Path,
			StatusCode: resp.StatusCode,
			Class:      errClass,
			Message:    resp.Status,
		}
	}

	if readErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &UpstreamError{
			Endpoint:   r.Path,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        readErr,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// GetJSON performs Get and decodes the JSON body into out.
// A body that cannot be decoded yields an UpstreamError of class decode.
func (c *Client) GetJSON(ctx context.Context, r Request, out any) (*Response, error) {
	resp, err := c.Get(ctx, r)
	if err != nil {
		return nil, err
	}

	if err := Decode(resp.Body, out); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &UpstreamError{
			Endpoint:   r.Path,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "malformed body",
			Err:        err,
		}
	}
	return resp, nil
}

// Decode unmarshals an upstream JSON body. Unknown fields are ignored.
func Decode(body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, out)
}

// BaseURL returns the configured upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// resolve joins the base URL path with path and encodes query. path is
// already escaped (segments built with url.PathEscape).
func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	joined := strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	if unescaped, err := url.PathUnescape(joined); err == nil {
		u.Path, u.RawPath = unescaped, joined
	} else {
		u.Path, u.RawPath = joined, ""
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// classifyStatus categorizes a non-2xx status for observability and handling.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		// 1xx/3xx are not followed by the legacy API contract; treat as server faults.
		return ErrorClassServer
	}
}
