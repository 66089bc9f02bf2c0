// Package requestctx carries per-request values (logger, trace, caller) between middleware and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// slot is a typed context key; each T gets its own key.
type slot[T any] struct{}

func put[T any](ctx context.Context, v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, slot[T]{}, v)
}

func get[T any](ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(slot[T]{}).(T)
	return v, ok
}

var nop = zap.NewNop()

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return put(ctx, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	return LoggerOr(ctx, nop)
}

// LoggerOr returns the request logger, or fallback when none was attached.
func LoggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := get[*zap.Logger](ctx); ok && l != nil && l != nop {
		return l
	}
	return fallback
}

// TraceInfo is the W3C or Cloud Trace context of the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return put(ctx, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return get[TraceInfo](ctx)
}

// TraceID is Trace(ctx).TraceID, or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// ClientInfo identifies the storefront caller for logging, rate limiting and idempotency scoping.
type ClientInfo struct {
	// CartSession is the opaque storefront cart token from X-Cart-Session.
	CartSession string
	RemoteIP    string
}

// Key prefers the cart session over the IP address. Empty when neither is known.
func (c ClientInfo) Key() string {
	switch {
	case c.CartSession != "":
		return "cart:" + c.CartSession
	case c.RemoteIP != "":
		return "ip:" + c.RemoteIP
	}
	return ""
}

func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return put(ctx, info)
}

func Client(ctx context.Context) (ClientInfo, bool) {
	return get[ClientInfo](ctx)
}
