package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrInvalidSessionRequest is returned when a checkout session request is incomplete.
var ErrInvalidSessionRequest = errors.New("payments: invalid checkout session request")

// CheckoutLineItem describes a single priced line of a checkout session. UnitAmount is in minor units.
type CheckoutLineItem struct {
	Name       string
	ImageURL   string
	SKU        string
	Quantity   int64
	UnitAmount int64
	Currency   string
}

// TaxRate is the dynamic tax rate applied to every line of a session.
type TaxRate struct {
	DisplayName string
	Percentage  decimal.Decimal
	Inclusive   bool
	Country     string
}

// ShippingOption is a fixed amount delivery option offered in the session. Amount is in minor units.
type ShippingOption struct {
	ID              string
	DisplayName     string
	Amount          int64
	Currency        string
	MinDeliveryDays int
	MaxDeliveryDays int
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Currency         string
	SuccessURL       string
	CancelURL        string
	Locale           string
	Metadata         map[string]string
	IdempotencyKey   string
	Items            []CheckoutLineItem
	TaxRate          *TaxRate
	ShippingOptions  []ShippingOption
	AllowedCountries []string
}

// Validate checks the invariants every provider relies on.
func (r CheckoutSessionRequest) Validate() error {
	if strings.TrimSpace(r.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidSessionRequest)
	}
	if strings.TrimSpace(r.SuccessURL) == "" || strings.TrimSpace(r.CancelURL) == "" {
		return fmt.Errorf("%w: success and cancel urls are required", ErrInvalidSessionRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrInvalidSessionRequest)
	}
	for i, item := range r.Items {
		if item.Quantity <= 0 || item.UnitAmount < 0 || strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: line %d is malformed", ErrInvalidSessionRequest, i)
		}
	}
	if r.TaxRate != nil && r.TaxRate.Percentage.IsNegative() {
		return fmt.Errorf("%w: tax percentage must not be negative", ErrInvalidSessionRequest)
	}
	return nil
}

// AmountTotal sums line items and the cheapest shipping option, excluding tax.
func (r CheckoutSessionRequest) AmountTotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.UnitAmount * item.Quantity
	}
	if len(r.ShippingOptions) > 0 {
		cheapest := r.ShippingOptions[0].Amount
		for _, option := range r.ShippingOptions[1:] {
			if option.Amount < cheapest {
				cheapest = option.Amount
			}
		}
		total += cheapest
	}
	return total
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	TaxRateID   string
	AmountTotal int64
	ExpiresAt   time.Time
}

