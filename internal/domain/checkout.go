package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CartLineRequest is a single client-submitted cart line. It is untrusted input.
type CartLineRequest struct {
	CatalogProductID int64
	CatalogVariantID int64
	Quantity         int
}

// CanonicalVariant is a catalog variant as resolved from the supplier store catalog during a pipeline run.
type CanonicalVariant struct {
	ID               int64
	CatalogProductID int64
	BaseProductID    int64
	BaseVariantID    int64
	RetailPrice      decimal.Decimal
	Currency         string
	Name             string
	ThumbnailURL     string
	SKU              string
	ExternalID       string
}

// StockStatus enumerates warehouse availability states reported per region.
type StockStatus string

const (
	StockInStock         StockStatus = "in_stock"
	StockOutOfStock      StockStatus = "out_of_stock"
	StockDiscontinued    StockStatus = "discontinued"
	StockStockedOnDemand StockStatus = "stocked_on_demand"
)

// RegionStatus is one region entry of a base variant's availability.
type RegionStatus struct {
	Region string
	Status StockStatus
}

// RegionalAvailability lists availability per region for one base variant.
type RegionalAvailability struct {
	VariantID int64
	Regions   []RegionStatus
}

// InStockIn reports whether any region containing regionToken is in stock.
func (a RegionalAvailability) InStockIn(regionToken string) bool {
	token := strings.ToUpper(strings.TrimSpace(regionToken))
	if token == "" {
		return false
	}
	for _, region := range a.Regions {
		if region.Status != StockInStock {
			continue
		}
		if strings.Contains(strings.ToUpper(region.Region), token) {
			return true
		}
	}
	return false
}

// IndexAvailability keys availability records by base variant id. Later duplicates win.
func IndexAvailability(records []RegionalAvailability) map[int64]RegionalAvailability {
	index := make(map[int64]RegionalAvailability, len(records))
	for _, record := range records {
		index[record.VariantID] = record
	}
	return index
}

// IsPurchasable applies the fail-closed stock rule: variants missing from availability are not purchasable.
func IsPurchasable(availability map[int64]RegionalAvailability, baseVariantID int64, regionToken string) bool {
	entry, ok := availability[baseVariantID]
	if !ok {
		return false
	}
	return entry.InStockIn(regionToken)
}

// PricedLineItem couples a resolved variant with the requested quantity and its stock verdict.
type PricedLineItem struct {
	Variant  CanonicalVariant
	Quantity int
	InStock  bool
}

// DropReason explains why a requested cart line was excluded from pricing.
type DropReason string

const (
	DropNotInCatalog     DropReason = "not_in_catalog"
	DropOutOfStock       DropReason = "out_of_stock"
	DropCurrencyMismatch DropReason = "currency_mismatch"
)

// DroppedLine reports a cart line excluded from pricing so callers can prune it client-side.
type DroppedLine struct {
	Line   CartLineRequest
	Reason DropReason
}

// RawAddress is the buyer supplied shipping address before verification.
type RawAddress struct {
	Address1    string
	Address2    string
	City        string
	Zip         string
	CountryCode string
}

// VerificationStatus is the graded outcome of address verification.
type VerificationStatus string

const (
	VerificationVerified          VerificationStatus = "verified"
	VerificationPartiallyVerified VerificationStatus = "partially_verified"
	VerificationFailed            VerificationStatus = "failed"
)

// Deliverable reports whether the status is good enough to quote shipping against.
func (s VerificationStatus) Deliverable() bool {
	return s == VerificationVerified || s == VerificationPartiallyVerified
}

// NormalizedAddress is an address returned by the verification service.
type NormalizedAddress struct {
	Line1           string
	Line2           string
	City            string
	PostalOrZip     string
	Country         string
	ProvinceOrState string
	Status          VerificationStatus
}

// ShippingOption is a delivery option quoted by the supplier for an address and cart.
type ShippingOption struct {
	ID              string
	DisplayName     string
	Rate            decimal.Decimal
	Currency        string
	MinDeliveryDays int
	MaxDeliveryDays int
}

// CheckoutSessionRecord is appended to the external order store once a payment session exists.
type CheckoutSessionRecord struct {
	SessionID   string
	AttemptID   string
	Provider    string
	Currency    string
	VATFactor   decimal.Decimal
	AmountTotal int64
	Lines       []CheckoutSessionRecordLine
	Address     NormalizedAddress
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// CheckoutSessionRecordLine stores the priced line embedded in a payment session.
type CheckoutSessionRecordLine struct {
	CatalogVariantID int64
	BaseVariantID    int64
	SKU              string
	Name             string
	Quantity         int
	UnitAmount       int64
}
