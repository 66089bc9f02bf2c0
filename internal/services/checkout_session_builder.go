package services

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/payments"
	"github.com/podshop/api/internal/platform/money"
)

const (
	checkoutSuccessPath = "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	checkoutCancelPath  = "/cart"
	vatDisplayName      = "VAT"
	maxProductNameRunes = 250
	fallbackProductName = "Item"
)

// CheckoutSessionBuilder converts a validated cart into a payment session request.
type CheckoutSessionBuilder struct {
	baseURL          string
	allowedCountries []string
	policy           *bluemonday.Policy
}

// NewCheckoutSessionBuilder returns a builder redirecting buyers back to baseURL.
func NewCheckoutSessionBuilder(baseURL string, allowedCountries []string) (*CheckoutSessionBuilder, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("checkout session builder: base url is required")
	}
	countries := make([]string, 0, len(allowedCountries))
	for _, country := range allowedCountries {
		code := strings.ToUpper(strings.TrimSpace(country))
		if code != "" {
			countries = append(countries, code)
		}
	}
	return &CheckoutSessionBuilder{
		baseURL:          trimmed,
		allowedCountries: countries,
		policy:           bluemonday.StrictPolicy(),
	}, nil
}

// SuccessURL is where the provider sends the buyer after payment.
func (b *CheckoutSessionBuilder) SuccessURL() string {
	return b.baseURL + checkoutSuccessPath
}

// CancelURL is where the provider sends the buyer when they abandon payment.
func (b *CheckoutSessionBuilder) CancelURL() string {
	return b.baseURL + checkoutCancelPath
}

// Build prices every in-stock line in minor units, attaches a single VAT rate derived from the
// cart's factor and prices each shipping option at rate times factor.
func (b *CheckoutSessionBuilder) Build(result CartValidationResult) (payments.CheckoutSessionRequest, error) {
	currency, err := money.NormalizeCurrency(result.Currency)
	if err != nil {
		return payments.CheckoutSessionRequest{}, err
	}
	if !result.VATFactor.IsPositive() {
		return payments.CheckoutSessionRequest{}, fmt.Errorf("checkout session builder: vat factor %s is not positive", result.VATFactor)
	}

	req := payments.CheckoutSessionRequest{
		Currency:         currency,
		SuccessURL:       b.SuccessURL(),
		CancelURL:        b.CancelURL(),
		AllowedCountries: b.shippingCountries(result.Address.Country),
	}

	for _, line := range result.Lines {
		if !line.InStock {
			continue
		}
		unit, err := money.ToMinorUnits(line.Variant.RetailPrice, currency)
		if err != nil {
			return payments.CheckoutSessionRequest{}, fmt.Errorf("line %d: %w", line.Variant.ID, err)
		}
		req.Items = append(req.Items, payments.CheckoutLineItem{
			Name:       b.productName(line.Variant),
			ImageURL:   line.Variant.ThumbnailURL,
			SKU:        line.Variant.SKU,
			Quantity:   int64(line.Quantity),
			UnitAmount: unit,
			Currency:   currency,
		})
	}
	if len(req.Items) == 0 {
		return payments.CheckoutSessionRequest{}, ErrNoPurchasableItems
	}

	if percentage := domain.VATPercentage(result.VATFactor); percentage.IsPositive() {
		req.TaxRate = &payments.TaxRate{
			DisplayName: vatDisplayName,
			Percentage:  percentage,
			Inclusive:   false,
			Country:     result.Address.Country,
		}
	}

	for _, option := range result.ShippingOptions {
		amount, err := shippingAmount(option, result.VATFactor, currency)
		if err != nil {
			return payments.CheckoutSessionRequest{}, fmt.Errorf("shipping option %s: %w", option.ID, err)
		}
		req.ShippingOptions = append(req.ShippingOptions, payments.ShippingOption{
			ID:              option.ID,
			DisplayName:     strings.TrimSpace(option.DisplayName),
			Amount:          amount,
			Currency:        currency,
			MinDeliveryDays: option.MinDeliveryDays,
			MaxDeliveryDays: option.MaxDeliveryDays,
		})
	}

	return req, nil
}

func shippingAmount(option domain.ShippingOption, factor decimal.Decimal, currency string) (int64, error) {
	if option.Currency != "" && !strings.EqualFold(option.Currency, currency) {
		return 0, fmt.Errorf("currency %s does not match cart currency %s", option.Currency, currency)
	}
	return money.ToMinorUnits(domain.ApplyVAT(option.Rate, factor), currency)
}

// productName strips markup from supplier names since the provider renders them verbatim.
func (b *CheckoutSessionBuilder) productName(variant domain.CanonicalVariant) string {
	name := strings.TrimSpace(html.UnescapeString(b.policy.Sanitize(variant.Name)))
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = strings.TrimSpace(variant.SKU)
	}
	if name == "" {
		return fallbackProductName
	}
	runes := []rune(name)
	if len(runes) > maxProductNameRunes {
		name = string(runes[:maxProductNameRunes])
	}
	return name
}

// shippingCountries restricts address collection to the verified destination when it is served.
func (b *CheckoutSessionBuilder) shippingCountries(verified string) []string {
	country := strings.ToUpper(strings.TrimSpace(verified))
	for _, allowed := range b.allowedCountries {
		if allowed == country {
			return []string{country}
		}
	}
	return append([]string(nil), b.allowedCountries...)
}
