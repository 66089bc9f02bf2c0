// Package secrets resolves secret:// configuration references against Google Secret Manager, with a
// local file standing in for developers without cloud credentials.
package secrets

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher caches resolved values for the life of the process.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	project    string
	logger     *zap.Logger
	latency    metric.Float64Histogram

	local func() (map[string]string, error)

	calls singleflight.Group
	mu    sync.RWMutex
	cache map[string]string
}

type settings struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultProject is used for references without ?project=.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile sets the local secrets file; "" disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient injects a client; the Fetcher will not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher never fails for lack of credentials: without a Secret Manager client it resolves from
// the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{logger: zap.NewNop(), fallbackPath: ".secrets.local"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter("github.com/podshop/api/internal/platform/secrets")
	}

	path := s.fallbackPath
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	f := &Fetcher{
		project: s.project,
		logger:  s.logger,
		local:   sync.OnceValues(func() (map[string]string, error) { return readFallbackFile(path) }),
		cache:   map[string]string{},
	}
	if h, err := s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	} else {
		f.latency = h
	}

	switch {
	case s.client != nil:
		f.client = s.client
	default:
		client, err := secretManagerClientFactory(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
			break
		}
		f.client, f.ownsClient = client, true
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. Secret Manager is consulted first; permission, auth,
// availability and deadline errors fall through to the local file, any other error is returned.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := parseRef(raw)
	if err != nil {
		return "", err
	}
	resource, remote := ref.resource(f.project)
	remote = remote && f.client != nil

	cacheKey := ref.localKey()
	if remote {
		cacheKey = resource
	}
	f.mu.RLock()
	cached, ok := f.cache[cacheKey]
	f.mu.RUnlock()
	if ok {
		f.observe(ctx, started, "cache")
		return cached, nil
	}

	v, err, _ := f.calls.Do(cacheKey, func() (any, error) {
		value, source, err := f.lookup(ctx, ref, resource, remote)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[cacheKey] = value
		f.mu.Unlock()
		f.observe(ctx, started, source)
		return value, nil
	})
	if err != nil {
		f.observe(ctx, started, "error")
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) lookup(ctx context.Context, ref secretRef, resource string, remote bool) (string, string, error) {
	if remote {
		value, err := f.access(ctx, resource)
		if err == nil {
			return value, "remote", nil
		}
		if !recoverable(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref, err)
		}
		f.logger.Debug("secrets: secret manager refused, trying fallback file", zap.Stringer("ref", ref), zap.Error(err))
	}
	values, err := f.local()
	if err != nil {
		return "", "", err
	}
	value, ok := values[ref.localKey()]
	if !ok {
		return "", "", fmt.Errorf("secrets: no fallback value for %s (version %s)", ref, ref.version)
	}
	return value, "fallback", nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string) {
	if f.latency == nil {
		return
	}
	ms := float64(time.Since(started)) / float64(time.Millisecond)
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
