// Package config loads the checkout API configuration from the environment, an optional .env
// file, Secret Manager references and the shipping zones file.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Server              ServerConfig
	Supplier            SupplierConfig
	AddressVerification AddressVerificationConfig
	PSP                 PSPConfig
	Checkout            CheckoutConfig
	Firestore           FirestoreConfig
	PubSub              PubSubConfig
	RateLimits          RateLimitConfig
	Security            SecurityConfig
	Idempotency         IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SupplierConfig points at the print-on-demand supplier API (catalog, warehouse, shipping).
type SupplierConfig struct {
	BaseURL     string
	Token       string
	StoreID     string
	Locale      string
	Timeout     time.Duration
	FanoutLimit int
}

type AddressVerificationConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
}

// CheckoutConfig drives the cart validation pipeline and the session builder.
type CheckoutConfig struct {
	BaseURL           string
	AllowedCountries  []string
	ShippingZonesFile string
	StockRegionToken  string
	MaxLines          int
	MaxQuantity       int
}

// FirestoreConfig enables the checkout ledger and the shared idempotency store. Empty ProjectID
// disables both.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig enables checkout.session.created events. ProjectID defaults to the Firestore project.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// RateLimitConfig throttles checkout routes per client IP.
type RateLimitConfig struct {
	CheckoutPerMinute int
	CheckoutBurst     int
}

type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig configures replay protection on POST /checkout/session. Store is "firestore"
// or "memory".
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
	Store  string
}

// ValidationError lists config fields or environment keys that are missing or unparsable.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid or missing [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secrets         SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile sets the .env path; "" skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secrets = resolver }
}

// WithRequiredSecrets names secret fields (e.g. "PSP.StripeAPIKey") that must not be empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load reads the configuration. Precedence: WithEnvMap, then the process environment, then .env,
// then defaults.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return Config{}, err
	}
	e := &env{lookup: func(key string) (string, bool) {
		if v, ok := o.envMap[key]; ok {
			return v, true
		}
		if o.useSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", "8080"),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Supplier: SupplierConfig{
			BaseURL:     e.str("API_SUPPLIER_BASE_URL", ""),
			Token:       e.str("API_SUPPLIER_TOKEN", ""),
			StoreID:     e.str("API_SUPPLIER_STORE_ID", ""),
			Locale:      e.str("API_SUPPLIER_LOCALE", ""),
			Timeout:     e.duration("API_SUPPLIER_TIMEOUT", defaultSupplierTimeout),
			FanoutLimit: e.integer("API_SUPPLIER_FANOUT_LIMIT", defaultSupplierFanout),
		},
		AddressVerification: AddressVerificationConfig{
			BaseURL: e.str("API_ADDRESS_BASE_URL", ""),
			APIKey:  e.str("API_ADDRESS_API_KEY", ""),
			Timeout: e.duration("API_ADDRESS_TIMEOUT", 5*time.Second),
		},
		PSP: PSPConfig{
			StripeAPIKey:    e.str("API_PSP_STRIPE_API_KEY", ""),
			StripeAccountID: e.str("API_PSP_STRIPE_ACCOUNT_ID", ""),
		},
		Checkout: CheckoutConfig{
			BaseURL:           strings.TrimRight(e.str("API_CHECKOUT_BASE_URL", ""), "/"),
			AllowedCountries:  e.countries("API_CHECKOUT_ALLOWED_COUNTRIES"),
			ShippingZonesFile: e.str("API_CHECKOUT_SHIPPING_ZONES_FILE", ""),
			StockRegionToken:  e.str("API_CHECKOUT_STOCK_REGION", "EU"),
			MaxLines:          e.integer("API_CHECKOUT_MAX_LINES", 50),
			MaxQuantity:       e.integer("API_CHECKOUT_MAX_QUANTITY", 100),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID: e.str("API_PUBSUB_PROJECT_ID", ""),
			Topic:     e.str("API_PUBSUB_CHECKOUT_TOPIC", defaultPubSubTopic),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute: e.integer("API_RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitPerMinute),
			CheckoutBurst:     e.integer("API_RATELIMIT_CHECKOUT_BURST", 20),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(e.str("API_SECURITY_ENVIRONMENT", "local")),
		},
		Idempotency: IdempotencyConfig{
			Header: e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Store:  strings.ToLower(e.str("API_IDEMPOTENCY_STORE", storeFirestore)),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	// Without a Firestore project the only store that can work is the in-process one.
	if cfg.Firestore.ProjectID == "" && cfg.Idempotency.Store == storeFirestore {
		cfg.Idempotency.Store = storeMemory
	}
	if cfg.Checkout.ShippingZonesFile != "" {
		zones, err := LoadShippingZones(cfg.Checkout.ShippingZonesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Checkout.AllowedCountries = mergeCountries(cfg.Checkout.AllowedCountries, zones.Countries())
	}

	if err := resolveSecrets(ctx, &cfg, o.secrets); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(e.invalid); err != nil {
		return Config{}, err
	}
	if err := cfg.missingSecrets(o.requiredSecrets); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const (
	defaultSupplierTimeout    = 10 * time.Second
	defaultSupplierFanout     = 8
	defaultPubSubTopic        = "checkout-session-created"
	defaultRateLimitPerMinute = 60
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour

	storeFirestore = "firestore"
	storeMemory    = "memory"
)

func (c Config) validate(unparsable []string) error {
	bad := append([]string(nil), unparsable...)
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}
	check(c.Server.Port != "", "Server.Port")
	check(c.Supplier.BaseURL != "", "Supplier.BaseURL")
	check(c.Supplier.FanoutLimit > 0, "Supplier.FanoutLimit")
	check(c.AddressVerification.BaseURL != "", "AddressVerification.BaseURL")
	check(c.Checkout.BaseURL != "", "Checkout.BaseURL")
	check(len(c.Checkout.AllowedCountries) > 0, "Checkout.AllowedCountries")
	check(c.Checkout.MaxLines > 0, "Checkout.MaxLines")
	check(c.Checkout.MaxQuantity > 0, "Checkout.MaxQuantity")
	check(c.RateLimits.CheckoutPerMinute > 0, "RateLimits.CheckoutPerMinute")
	check(c.Idempotency.Header != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	switch c.Idempotency.Store {
	case storeMemory:
	case storeFirestore:
		check(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		bad = append(bad, "Idempotency.Store")
	}
	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
