// Command api serves the storefront checkout API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/podshop/api/internal/di"
	"github.com/podshop/api/internal/handlers"
	"github.com/podshop/api/internal/platform/config"
	"github.com/podshop/api/internal/platform/idempotency"
	"github.com/podshop/api/internal/platform/observability"
	"github.com/podshop/api/internal/platform/secrets"
	"github.com/podshop/api/internal/services"
)

// requiredSecrets must resolve before the server starts.
var requiredSecrets = []string{"Supplier.Token", "AddressVerification.APIKey", "PSP.StripeAPIKey"}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	err = run(logger.Named("api"))
	var missing *config.MissingSecretsError
	switch {
	case errors.As(err, &missing):
		logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
	case err != nil:
		logger.Error("checkout api stopped", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	started := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := secretFetcher(ctx, logger.Named("secrets"), env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer fetcher.Close()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		return err
	}

	build := buildInfo(env, cfg, started)
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger), di.WithBuildInfo(build))
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("closing dependencies", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           routes(logger, cfg, container, build),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	return serve(ctx, logger.Named("http"), server, cfg)
}

func routes(logger *zap.Logger, cfg config.Config, c *di.Container, build services.BuildInfo) http.Handler {
	httpLogger := logger.Named("http")
	project := strings.TrimSpace(cfg.Firestore.ProjectID)

	checkout := handlers.NewCheckoutHandlers(c.Services.Checkout,
		handlers.WithCheckoutRateLimit(cfg.RateLimits.CheckoutPerMinute, cfg.RateLimits.CheckoutBurst),
		handlers.WithCheckoutIdempotency(idempotency.Middleware(c.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(logger.Named("idempotency")),
		)),
	)
	availability := handlers.NewAvailabilityHandlers(c.Services.Availability)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(project),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(project),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutRoutes(checkout.Routes),
		handlers.WithProductRoutes(availability.Routes),
	)
}

// serve runs until ctx is cancelled, then drains in-flight requests for up to 10s.
func serve(ctx context.Context, logger *zap.Logger, server *http.Server, cfg config.Config) error {
	failed := make(chan error, 1)
	go func() {
		logger.Info("checkout api listening",
			zap.String("addr", server.Addr),
			zap.Strings("allowedCountries", cfg.Checkout.AllowedCountries),
			zap.String("idempotencyStore", cfg.Idempotency.Store),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err, ok := <-failed:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received, draining")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(drainCtx)
}

func buildInfo(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	pick := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     pick(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   pick(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: pick(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

// secretFetcher prefers API_SECRET_DEFAULT_PROJECT_ID and falls back to the Firestore project.
func secretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{secrets.WithLogger(logger), secrets.WithFallbackFile(".secrets.local")}
	if path := get("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	project := get("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = get("API_FIRESTORE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if creds := get("API_SECRET_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
