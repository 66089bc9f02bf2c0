// Package upstream is the JSON-over-HTTP transport shared by the supplier and address verification clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/podshop/api/internal/platform/observability"
)

const (
	defaultTimeout   = 7 * time.Second
	maxResponseBytes = 2 << 20
	maxErrorPreview  = 512
)

var (
	// ErrTransport wraps failures to reach the upstream (dial, TLS, timeout, cancelled context).
	ErrTransport = errors.New("upstream: transport failure")
	// ErrDecode indicates the upstream answered 2xx with a body that could not be decoded.
	ErrDecode = errors.New("upstream: malformed response")
)

var tracer = otel.Tracer("github.com/podshop/api/internal/platform/upstream")

// StatusError indicates a non-2xx response.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream: status error"
	}
	body := strings.TrimSpace(string(e.Body))
	if len(body) > maxErrorPreview {
		body = body[:maxErrorPreview] + "...(truncated)"
	}
	if body == "" {
		return fmt.Sprintf("upstream %s %s: unexpected status %d", e.Service, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s %s: unexpected status %d: %s", e.Service, e.Operation, e.StatusCode, body)
}

// ServerSide reports whether the status is a 5xx or rate limit response.
func (e *StatusError) ServerSide() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Config describes one upstream API.
type Config struct {
	// Service names the upstream in logs, spans and metrics.
	Service    string
	BaseURL    string
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *observability.UpstreamMetrics
}

// Client sends JSON requests to a single base URL with fixed headers and a per-call timeout.
type Client struct {
	service string
	baseURL *url.URL
	timeout time.Duration
	headers map[string]string
	http    *http.Client
	logger  *zap.Logger
	metrics *observability.UpstreamMetrics
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		return nil, errors.New("upstream: service name is required")
	}
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("upstream %s: base url is required", service)
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream %s: invalid base url %q", service, raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		headers[k] = v
	}

	return &Client{
		service: service,
		baseURL: base,
		timeout: timeout,
		headers: headers,
		http:    httpClient,
		logger:  logger.With(zap.String("upstream", service)),
		metrics: cfg.Metrics,
	}, nil
}

// Service returns the configured upstream name.
func (c *Client) Service() string { return c.service }

// DoJSON sends body (when non-nil) as JSON and decodes a 2xx response into out (when non-nil).
// Non-2xx responses return *StatusError. Exactly one attempt is made.
func (c *Client) DoJSON(ctx context.Context, operation, method, path string, headers map[string]string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(path)
	ctx, span := tracer.Start(ctx, c.service+"."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("peer.service", c.service),
		attribute.String("http.request.method", method),
		attribute.String("url.path", target.Path),
	)
	defer span.End()

	start := time.Now()
	statusCode, err := c.do(ctx, operation, method, target, headers, body, out)
	elapsed := time.Since(start)

	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	c.metrics.Record(ctx, c.service, operation, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation)
		c.logger.Warn("upstream request failed",
			zap.String("operation", operation),
			zap.String("method", method),
			zap.String("path", target.Path),
			zap.Int("status", statusCode),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("upstream request completed",
		zap.String("operation", operation),
		zap.String("method", method),
		zap.String("path", target.Path),
		zap.Int("status", statusCode),
		zap.Duration("latency", elapsed),
	)
	return nil
}

func (c *Client) do(ctx context.Context, operation, method string, target *url.URL, headers map[string]string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("upstream %s %s: encode request: %w", c.service, operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("upstream %s %s: build request: %w", c.service, operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		if v == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrTransport, c.service, operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %s %s: read body: %w", ErrTransport, c.service, operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{
			Service:    c.service,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       raw,
		}
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, fmt.Errorf("%w: %s %s: empty body", ErrDecode, c.service, operation)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %s %s: %w", ErrDecode, c.service, operation, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) resolve(path string) *url.URL {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		ref = &url.URL{Path: strings.TrimPrefix(path, "/")}
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref)
}
