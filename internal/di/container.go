package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/podshop/api/internal/addressverify"
	"github.com/podshop/api/internal/payments"
	"github.com/podshop/api/internal/platform/config"
	pfirestore "github.com/podshop/api/internal/platform/firestore"
	"github.com/podshop/api/internal/platform/idempotency"
	"github.com/podshop/api/internal/platform/jobs"
	"github.com/podshop/api/internal/platform/observability"
	"github.com/podshop/api/internal/repositories"
	firestoreRepo "github.com/podshop/api/internal/repositories/firestore"
	"github.com/podshop/api/internal/services"
	"github.com/podshop/api/internal/supplier"
)

const (
	meterName         = "github.com/podshop/api"
	readinessCacheTTL = 2 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout     services.CheckoutService
	Availability services.AvailabilityService
	System       services.SystemService
}

// Container wires upstream clients, persistence and services for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Idempotency idempotency.Store

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	build    services.BuildInfo
	payments map[string]payments.Provider
}

// WithLogger sets the base logger; components receive named children.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the build metadata reported by readiness checks.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithPaymentProviders replaces the Stripe provider built from configuration.
func WithPaymentProviders(providers map[string]payments.Provider) Option {
	return func(o *containerOptions) {
		o.payments = providers
	}
}

// NewContainer constructs the runtime dependencies. Firestore and Pub/Sub are optional: an empty
// project id leaves the ledger and event publisher unwired.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger

	meter := otel.GetMeterProvider().Meter(meterName)
	upstreamMetrics := observability.NewUpstreamMetrics(meter, logger.Named("metrics"))
	checkoutMetrics := observability.NewCheckoutMetrics(meter, logger.Named("metrics"))

	c := &Container{Config: cfg}

	supplierClient, err := supplier.New(supplier.Config{
		BaseURL:     cfg.Supplier.BaseURL,
		Token:       cfg.Supplier.Token,
		StoreID:     cfg.Supplier.StoreID,
		Timeout:     cfg.Supplier.Timeout,
		Locale:      cfg.Supplier.Locale,
		FanoutLimit: cfg.Supplier.FanoutLimit,
	}, supplier.WithLogger(logger.Named("supplier")), supplier.WithMetrics(upstreamMetrics))
	if err != nil {
		return nil, fmt.Errorf("build supplier client: %w", err)
	}

	validator, err := addressverify.New(addressverify.Config{
		BaseURL: cfg.AddressVerification.BaseURL,
		APIKey:  cfg.AddressVerification.APIKey,
		Timeout: cfg.AddressVerification.Timeout,
	}, addressverify.WithLogger(logger.Named("addressverify")), addressverify.WithMetrics(upstreamMetrics))
	if err != nil {
		return nil, fmt.Errorf("build address validator: %w", err)
	}

	providers := o.payments
	if len(providers) == 0 {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.PSP.StripeAPIKey,
			AccountID: cfg.PSP.StripeAccountID,
			Logger:    eventLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers = map[string]payments.Provider{"stripe": stripeProvider}
	}
	paymentManager, err := payments.NewManager(providers, payments.WithDefaultProvider("stripe"))
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}

	checks := []repositories.DependencyCheck{{
		Name:     "supplier",
		Timeout:  2 * time.Second,
		Critical: true,
		Check:    supplierClient.Ping,
	}}

	var ledger repositories.CheckoutLedger
	if projectID := strings.TrimSpace(cfg.Firestore.ProjectID); projectID != "" {
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		})

		checkoutLedger, err := firestoreRepo.NewCheckoutLedger(provider)
		if err != nil {
			return nil, c.fail(ctx, fmt.Errorf("build checkout ledger: %w", err))
		}
		ledger = checkoutLedger

		if cfg.Idempotency.Store == "firestore" {
			store, err := idempotency.NewFirestoreStore(provider)
			if err != nil {
				return nil, c.fail(ctx, fmt.Errorf("build idempotency store: %w", err))
			}
			c.Idempotency = store
		}
	}
	if c.Idempotency == nil {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	var events services.CheckoutEventPublisher
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, c.fail(ctx, fmt.Errorf("build pubsub client: %w", err))
		}
		topic := client.Topic(cfg.PubSub.Topic)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		publisher, err := jobs.NewPubSubCheckoutPublisher(topic)
		if err != nil {
			return nil, c.fail(ctx, fmt.Errorf("build checkout publisher: %w", err))
		}
		events = publisher
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}

	pipeline, err := services.NewCartValidationPipeline(services.CartValidationPipelineDeps{
		Catalog:          supplierClient,
		Stock:            supplierClient,
		Addresses:        validator,
		Shipping:         supplierClient,
		AllowedCountries: cfg.Checkout.AllowedCountries,
		StockRegionToken: cfg.Checkout.StockRegionToken,
		MaxLines:         cfg.Checkout.MaxLines,
		MaxQuantity:      cfg.Checkout.MaxQuantity,
		Logger:           eventLogger(logger.Named("pipeline")),
		Metrics:          checkoutMetrics,
	})
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("build cart validation pipeline: %w", err))
	}

	builder, err := services.NewCheckoutSessionBuilder(cfg.Checkout.BaseURL, cfg.Checkout.AllowedCountries)
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("build checkout session builder: %w", err))
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Pipeline: pipeline,
		Builder:  builder,
		Payments: paymentManager,
		Ledger:   ledger,
		Events:   events,
		Clock:    time.Now,
		Logger:   eventLogger(logger.Named("checkout")),
		Metrics:  checkoutMetrics,
	})
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("build checkout service: %w", err))
	}

	availabilitySvc, err := services.NewAvailabilityService(services.AvailabilityServiceDeps{
		Stock:            supplierClient,
		StockRegionToken: cfg.Checkout.StockRegionToken,
		Logger:           eventLogger(logger.Named("availability")),
	})
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("build availability service: %w", err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("build health repository: %w", err))
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            o.build,
		CacheTTL:         readinessCacheTTL,
	})
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("build system service: %w", err))
	}

	c.Services = Services{
		Checkout:     checkoutSvc,
		Availability: availabilitySvc,
		System:       systemSvc,
	}
	return c, nil
}

// Close releases cloud clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) fail(ctx context.Context, err error) error {
	if closeErr := c.Close(ctx); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

// eventLogger adapts zap to the event hooks taken by services and payment providers.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		if strings.HasSuffix(event, "_failed") || strings.HasSuffix(event, ".failed") {
			logger.Warn(event, zapFields...)
			return
		}
		logger.Info(event, zapFields...)
	}
}
