package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/supplier"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ReadinessReport      = domain.ReadinessReport
	RegionalAvailability = domain.RegionalAvailability
)

// CatalogResolver resolves store catalog products into canonical variants.
type CatalogResolver interface {
	ResolveVariants(ctx context.Context, productIDs []int64) (map[int64][]domain.CanonicalVariant, error)
}

// StockResolver resolves regional warehouse availability for base variants.
type StockResolver interface {
	ResolveAvailability(ctx context.Context, baseVariantIDs []int64) ([]domain.RegionalAvailability, error)
}

// ProductStockResolver resolves availability for a whole base product family.
type ProductStockResolver interface {
	ResolveProductAvailability(ctx context.Context, baseProductID int64) ([]domain.RegionalAvailability, error)
}

// AddressValidator verifies and normalises a shipping address.
type AddressValidator interface {
	Validate(ctx context.Context, raw domain.RawAddress) (domain.NormalizedAddress, error)
}

// ShippingEstimator quotes costs and shipping options for a set of lines.
type ShippingEstimator interface {
	EstimateCosts(ctx context.Context, addr domain.NormalizedAddress, items []supplier.CostItem) (domain.CostEstimate, error)
	RateOptions(ctx context.Context, addr domain.NormalizedAddress, items []supplier.RateItem, currency string) ([]domain.ShippingOption, error)
}

// CartValidator runs the cart validation pipeline.
type CartValidator interface {
	Validate(ctx context.Context, cmd CartValidationCommand) (CartValidationResult, error)
}

// CheckoutService validates carts and turns them into payment provider sessions.
type CheckoutService interface {
	ValidateCart(ctx context.Context, cmd CartValidationCommand) (CartValidationResult, error)
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
}

// AvailabilityService answers stock questions for product detail pages.
type AvailabilityService interface {
	ProductAvailability(ctx context.Context, baseProductID int64) (ProductAvailability, error)
}

// SystemService exposes health information for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (ReadinessReport, error)
}

// CartValidationCommand is the untrusted cart and address submitted by the storefront.
type CartValidationCommand struct {
	Lines   []domain.CartLineRequest
	Address domain.RawAddress
}

// CartValidationResult is the consistent view of a cart produced by one pipeline run.
type CartValidationResult struct {
	Lines           []domain.PricedLineItem
	Dropped         []domain.DroppedLine
	Address         domain.NormalizedAddress
	Costs           domain.CostEstimate
	VATFactor       decimal.Decimal
	ShippingOptions []domain.ShippingOption
	Currency        string
}

// CreateCheckoutSessionCommand requests a payment session for a cart.
type CreateCheckoutSessionCommand struct {
	Cart           CartValidationCommand
	PSP            string
	Locale         string
	IdempotencyKey string
	Metadata       map[string]string
}

// CheckoutSessionResult is returned to the storefront for redirecting the buyer.
type CheckoutSessionResult struct {
	AttemptID       string
	SessionID       string
	Provider        string
	RedirectURL     string
	ExpiresAt       time.Time
	Currency        string
	AmountTotal     int64
	VATFactor       decimal.Decimal
	Lines           []domain.PricedLineItem
	Dropped         []domain.DroppedLine
	ShippingOptions []domain.ShippingOption
}

// ProductAvailability summarises stock for every variant of a base product.
type ProductAvailability struct {
	BaseProductID int64
	RegionToken   string
	Variants      []VariantAvailability
}

// VariantAvailability is one variant's purchasability with its raw region entries.
type VariantAvailability struct {
	VariantID   int64
	Purchasable bool
	Regions     []domain.RegionStatus
}
