package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"go.uber.org/zap"
)

// API paths, relative to the base URL.
const (
	PathAnalyze = "/analyze"
	PathResult  = "/result"
	PathHealth  = "/health"
	PathConfig  = "/config"
)

const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of an error response is read for its detail.
const maxErrorBody = 64 << 10

// Client talks to the analysis HTTP API. It is stateless apart from its
// configuration and safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
	tracing    o11y.TracingProvider
	requests   o11y.Counter
	failures   o11y.Counter
	latency    o11y.Histogram
}

// ClientBuilder provides a fluent interface for building analysis clients.
type ClientBuilder struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
	metrics    o11y.MetricsProvider
	tracing    o11y.TracingProvider
}

func NewClient() *ClientBuilder {
	return &ClientBuilder{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
}

// WithBaseURL sets the API base, e.g. http://localhost:8000.
func (b *ClientBuilder) WithBaseURL(baseURL string) *ClientBuilder {
	b.baseURL = baseURL
	return b
}

// WithHTTPClient sets the HTTP client. Its Timeout is left alone.
func (b *ClientBuilder) WithHTTPClient(client *http.Client) *ClientBuilder {
	b.httpClient = client
	return b
}

// WithTimeout bounds every request made by a client built without
// WithHTTPClient.
func (b *ClientBuilder) WithTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.timeout = timeout
	}
	return b
}

func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracing = provider
	return b
}

func (b *ClientBuilder) IsValid() error {
	if b.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	u, err := url.Parse(b.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q has no host", b.baseURL)
	}

	return nil
}

func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	base, _ := url.Parse(strings.TrimSuffix(b.baseURL, "/"))

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: b.timeout}
	}

	c := &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     b.logger,
		tracing:    b.tracing,
	}
	if b.metrics != nil {
		c.requests = b.metrics.Counter("analysis_requests_total")
		c.failures = b.metrics.Counter("analysis_request_failures_total")
		c.latency = b.metrics.Histogram("analysis_request_duration_seconds")
	}

	return c, nil
}

// BaseURL returns the API base the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Submit validates req, fills in defaults and starts an analysis.
func (c *Client) Submit(ctx context.Context, req Request) (Submission, error) {
	if err := req.Validate(); err != nil {
		return Submission{}, err
	}

	var sub Submission
	if err := c.do(ctx, "submit", http.MethodPost, PathAnalyze, req.WithDefaults(), &sub); err != nil {
		return Submission{}, err
	}

	c.logger.Info("Analysis submitted",
		zap.String("session_id", sub.SessionID),
		zap.String("status", string(sub.Status)),
		zap.String("title", req.Title))

	return sub, nil
}

// Result fetches the stored result for sessionID.
func (c *Client) Result(ctx context.Context, sessionID string) (Result, error) {
	id, err := ParseSessionID(sessionID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := c.do(ctx, "result", http.MethodGet, PathResult+"/"+id, nil, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// Health asks the service whether it is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	err := c.do(ctx, "health", http.MethodGet, PathHealth, nil, &health)
	return health, err
}

// Config fetches the service's self description.
func (c *Client) Config(ctx context.Context) (ServerConfig, error) {
	var cfg ServerConfig
	err := c.do(ctx, "config", http.MethodGet, PathConfig, nil, &cfg)
	return cfg, err
}

// ParseSessionID normalizes a session id, which the service issues as a UUID.
func ParseSessionID(sessionID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(sessionID))
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidSessionID, sessionID, err)
	}
	return id.String(), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := o11y.StartSpan(ctx, c.tracing, "analysis."+op)
	span.SetAttributes(o11y.Label{Key: "http.method", Value: method}, o11y.Label{Key: "http.path", Value: path})
	defer func() { o11y.EndSpan(span, err) }()

	start := time.Now()
	labels := []o11y.Label{{Key: "operation", Value: op}}
	if c.requests != nil {
		c.requests.Add(ctx, 1, labels...)
		defer func() {
			c.latency.Record(ctx, time.Since(start).Seconds(), labels...)
			if err != nil {
				c.failures.Add(ctx, 1, labels...)
			}
		}()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("Analysis API request", zap.String("method", method), zap.String("url", endpoint.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode}
		httpErr.Detail = errorDetail(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("Analysis API error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", httpErr.Detail))
		return httpErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

// errorDetail extracts the "detail" message of an error body, falling back to
// the body text.
func errorDetail(r io.Reader) string {
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if encoded, err := json.Marshal(body.Detail); err == nil {
			return string(encoded)
		}
	}

	return strings.TrimSpace(string(data))
}
