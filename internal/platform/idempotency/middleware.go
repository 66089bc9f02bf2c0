package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/podshop/api/internal/platform/httpx"
	"github.com/podshop/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

type keyContextKey struct{}

// Option customises the middleware.
type Option func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) Option {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a completed response stays replayable.
func WithTTL(ttl time.Duration) Option {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// RequireKey rejects POSTs without a key instead of passing them through.
func RequireKey() Option {
	return func(g *guard) { g.requireKey = true }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// KeyFromContext returns the client-scoped key accepted for the current request, or "".
func KeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(keyContextKey{}).(string)
	return key
}

// Middleware replays the first response for repeated POSTs with the same key and body. Keys are
// scoped to the storefront client. 5xx responses are not kept so a retry after an outage runs again.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	base := guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return func(next http.Handler) http.Handler {
		g := base
		g.next = next
		return &g
	}
}

type guard struct {
	store      Store
	next       http.Handler
	header     string
	ttl        time.Duration
	requireKey bool
	now        func() time.Time
	logger     *zap.Logger
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.requireKey:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest))
		return
	case key == "":
		g.next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	scoped := Scoped(ctx, key)
	fingerprint := fingerprintOf(r, body)

	claim, stored, err := g.store.Claim(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrKeyReused):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.logger.Error("idempotency claim failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	case claim == ClaimReplay:
		replay(w, stored)
		return
	case claim == ClaimInFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	var captured bytes.Buffer
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Tee(&captured)
	g.next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, keyContextKey{}, scoped)))

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		g.release(ctx, scoped)
		return
	}
	resp := Response{Status: status, Header: w.Header().Clone(), Body: captured.Bytes()}
	if err := g.store.Complete(ctx, scoped, fingerprint, resp, g.now().UTC(), g.ttl); err != nil {
		g.logger.Error("idempotency complete failed", zap.Int("status", status), zap.Error(err))
		g.release(ctx, scoped)
	}
}

func (g *guard) release(ctx context.Context, scoped string) {
	if err := g.store.Release(context.WithoutCancel(ctx), scoped); err != nil {
		g.logger.Warn("idempotency release failed", zap.Error(err))
	}
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintOf hashes method, path, query and body so a key cannot be replayed for a different cart.
func fingerprintOf(r *http.Request, body []byte) string {
	bodySum := sha256.Sum256(body)
	sum := sha256.Sum256([]byte(r.Method + "|" + r.URL.Path + "|" + r.URL.RawQuery + "|" + hex.EncodeToString(bodySum[:])))
	return hex.EncodeToString(sum[:])
}

// Scoped prefixes key with the storefront client identity so equal keys from different clients never meet.
func Scoped(ctx context.Context, key string) string {
	return clientScope(ctx) + "|" + key
}

func clientScope(ctx context.Context) string {
	if client, ok := requestctx.Client(ctx); ok {
		if key := client.Key(); key != "" {
			return key
		}
	}
	return "anonymous"
}
