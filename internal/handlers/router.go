package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/podshop/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar mounts a handler group on the /api/v1 sub-router.
type RouteRegistrar func(r chi.Router)

// routeGroup is a path prefix under /api/v1 answered with 501 until a registrar claims it.
type routeGroup struct {
	name     string
	pattern  string
	register RouteRegistrar
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	checkout    RouteRegistrar
	products    RouteRegistrar
}

// Option configures NewRouter.
type Option func(*routerConfig)

// NewRouter assembles the public HTTP surface: probes at the root and the storefront API under /api/v1.
func NewRouter(opts ...Option) http.Handler {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	groups := []routeGroup{
		{name: "checkout", pattern: "/checkout/*", register: cfg.checkout},
		{name: "products", pattern: "/products/*", register: cfg.products},
	}
	r.Route(apiPrefix, func(api chi.Router) {
		for _, g := range groups {
			if g.register != nil {
				g.register(api)
				continue
			}
			name := g.name
			api.HandleFunc(g.pattern, func(w http.ResponseWriter, req *http.Request) {
				httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are not enabled", http.StatusNotImplemented))
			})
		}
	})
	return r
}

// WithMiddlewares adds global middleware after request id, real ip, path cleaning and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCheckoutRoutes claims /api/v1/checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithProductRoutes claims /api/v1/products.
func WithProductRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.products = reg
	}
}
