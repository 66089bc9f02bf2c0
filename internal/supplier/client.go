// Package supplier talks to the print-on-demand supplier API: store catalog, warehouse stock and shipping.
package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/podshop/api/internal/platform/observability"
	"github.com/podshop/api/internal/platform/upstream"
)

const (
	serviceName        = "supplier"
	storeIDHeader      = "X-PF-Store-Id"
	defaultFanoutLimit = 8
	defaultLocale      = "en_US"
)

var (
	// ErrUpstream indicates the supplier could not be reached or answered with a non-success status.
	ErrUpstream = errors.New("supplier: upstream request failed")
	// ErrEmptyResult indicates a successful response without a usable result.
	ErrEmptyResult = errors.New("supplier: empty result")
	// ErrNoResults indicates every lookup of a fan-out failed.
	ErrNoResults = errors.New("supplier: no lookups succeeded")
	// ErrInvalidRequest indicates the caller supplied nothing to look up or estimate.
	ErrInvalidRequest = errors.New("supplier: invalid request")
)

// Config holds the supplier API coordinates.
type Config struct {
	BaseURL     string
	Token       string
	StoreID     string
	Timeout     time.Duration
	Locale      string
	FanoutLimit int
}

// Option customises the Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observability.UpstreamMetrics
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the logger used for per-lookup diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records upstream latency.
func WithMetrics(metrics *observability.UpstreamMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// Client is the supplier API handle shared by the catalog, warehouse and shipping operations.
type Client struct {
	api         *upstream.Client
	storeID     string
	locale      string
	fanoutLimit int
	logger      *zap.Logger
}

// New constructs a supplier client.
func New(cfg Config, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("supplier: api token is required")
	}

	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	api, err := upstream.New(upstream.Config{
		Service:    serviceName,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		Headers:    map[string]string{"Authorization": "Bearer " + token},
		HTTPClient: o.httpClient,
		Logger:     o.logger,
		Metrics:    o.metrics,
	})
	if err != nil {
		return nil, err
	}

	limit := cfg.FanoutLimit
	if limit <= 0 {
		limit = defaultFanoutLimit
	}
	locale := strings.TrimSpace(cfg.Locale)
	if locale == "" {
		locale = defaultLocale
	}

	return &Client{
		api:         api,
		storeID:     strings.TrimSpace(cfg.StoreID),
		locale:      locale,
		fanoutLimit: limit,
		logger:      o.logger,
	}, nil
}

// envelope is the common response wrapper of the supplier API.
type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
}

// call performs one request and decodes envelope.result into out.
// Store scoped endpoints carry the store header; warehouse endpoints do not.
func (c *Client) call(ctx context.Context, operation, method, path string, storeScoped bool, body, out any) error {
	var headers map[string]string
	if storeScoped && c.storeID != "" {
		headers = map[string]string{storeIDHeader: c.storeID}
	}

	var env envelope
	if err := c.api.DoJSON(ctx, operation, method, path, headers, body, &env); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpstream, operation, err)
	}

	result := strings.TrimSpace(string(env.Result))
	if result == "" || result == "null" || result == "[]" || result == "{}" {
		return fmt.Errorf("%w: %s", ErrEmptyResult, operation)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: %s: decode result: %w", ErrUpstream, operation, err)
	}
	return nil
}

// Ping checks that the supplier answers for the configured store.
func (c *Client) Ping(ctx context.Context) error {
	var env envelope
	headers := map[string]string{}
	if c.storeID != "" {
		headers[storeIDHeader] = c.storeID
	}
	if err := c.api.DoJSON(ctx, "ping", http.MethodGet, "/stores", headers, nil, &env); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrUpstream, err)
	}
	return nil
}
