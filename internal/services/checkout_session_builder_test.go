package services

import (
	"errors"
	"testing"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/money"
)

func validatedEuroCart(t *testing.T) CartValidationResult {
	t.Helper()
	return CartValidationResult{
		Currency:  "EUR",
		VATFactor: dec(t, "1.21"),
		Address:   domain.NormalizedAddress{Country: "DE", Status: domain.VerificationVerified},
		Lines: []domain.PricedLineItem{{
			Variant: domain.CanonicalVariant{
				ID:           101,
				RetailPrice:  dec(t, "25.00"),
				Currency:     "EUR",
				Name:         "Classic <b>Tee</b> &amp; Co / M",
				ThumbnailURL: "https://img/55.png",
				SKU:          "TEE-M",
			},
			Quantity: 2,
			InStock:  true,
		}},
		ShippingOptions: []domain.ShippingOption{{
			ID:              "STANDARD",
			DisplayName:     " Standard ",
			Rate:            dec(t, "10.00"),
			Currency:        "EUR",
			MinDeliveryDays: 3,
			MaxDeliveryDays: 5,
		}},
	}
}

func newTestBuilder(t *testing.T) *CheckoutSessionBuilder {
	t.Helper()
	builder, err := NewCheckoutSessionBuilder("https://shop.example.com/", []string{"de", "FR"})
	if err != nil {
		t.Fatalf("NewCheckoutSessionBuilder: %v", err)
	}
	return builder
}

func TestCheckoutSessionBuilderPricesInMinorUnits(t *testing.T) {
	req, err := newTestBuilder(t).Build(validatedEuroCart(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if req.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", req.Currency)
	}
	if len(req.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(req.Items))
	}
	item := req.Items[0]
	if item.UnitAmount != 2500 || item.Quantity != 2 {
		t.Fatalf("expected 2 x 2500, got %d x %d", item.Quantity, item.UnitAmount)
	}
	if item.Name != "Classic Tee & Co / M" {
		t.Fatalf("expected sanitized name, got %q", item.Name)
	}
	if req.TaxRate == nil || !req.TaxRate.Percentage.Equal(dec(t, "21")) || req.TaxRate.Inclusive {
		t.Fatalf("expected exclusive 21%% tax rate, got %+v", req.TaxRate)
	}
	if req.TaxRate.DisplayName != "VAT" || req.TaxRate.Country != "DE" {
		t.Fatalf("unexpected tax rate labels %+v", req.TaxRate)
	}
	if len(req.ShippingOptions) != 1 || req.ShippingOptions[0].Amount != 1210 {
		t.Fatalf("expected shipping 1210, got %+v", req.ShippingOptions)
	}
	if req.ShippingOptions[0].DisplayName != "Standard" {
		t.Fatalf("expected trimmed display name, got %q", req.ShippingOptions[0].DisplayName)
	}
	if req.SuccessURL != "https://shop.example.com/checkout/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %q", req.SuccessURL)
	}
	if req.CancelURL != "https://shop.example.com/cart" {
		t.Fatalf("unexpected cancel url %q", req.CancelURL)
	}
	if len(req.AllowedCountries) != 1 || req.AllowedCountries[0] != "DE" {
		t.Fatalf("expected address collection restricted to DE, got %v", req.AllowedCountries)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request: %v", err)
	}
	if req.AmountTotal() != 6210 {
		t.Fatalf("expected pre-tax amount 6210, got %d", req.AmountTotal())
	}
}

func TestCheckoutSessionBuilderZeroDecimalCurrency(t *testing.T) {
	cart := validatedEuroCart(t)
	cart.Currency = "jpy"
	cart.VATFactor = dec(t, "1.10")
	cart.Lines[0].Variant.RetailPrice = dec(t, "1500")
	cart.ShippingOptions[0].Rate = dec(t, "800")
	cart.ShippingOptions[0].Currency = "JPY"

	req, err := newTestBuilder(t).Build(cart)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Currency != "JPY" {
		t.Fatalf("expected JPY, got %s", req.Currency)
	}
	if req.Items[0].UnitAmount != 1500 {
		t.Fatalf("expected 1500 yen unmultiplied, got %d", req.Items[0].UnitAmount)
	}
	if req.ShippingOptions[0].Amount != 880 {
		t.Fatalf("expected 880 yen shipping, got %d", req.ShippingOptions[0].Amount)
	}
	if !req.TaxRate.Percentage.Equal(dec(t, "10")) {
		t.Fatalf("expected 10%% tax, got %s", req.TaxRate.Percentage)
	}
}

func TestCheckoutSessionBuilderOmitsTaxRateWithoutVAT(t *testing.T) {
	cart := validatedEuroCart(t)
	cart.VATFactor = dec(t, "1.00")

	req, err := newTestBuilder(t).Build(cart)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.TaxRate != nil {
		t.Fatalf("expected no tax rate, got %+v", req.TaxRate)
	}
	if req.ShippingOptions[0].Amount != 1000 {
		t.Fatalf("expected untaxed shipping 1000, got %d", req.ShippingOptions[0].Amount)
	}
}

func TestCheckoutSessionBuilderSkipsOutOfStockAndFallsBackOnNames(t *testing.T) {
	cart := validatedEuroCart(t)
	cart.Lines[0].Variant.Name = "<script>alert(1)</script>"
	cart.Lines = append(cart.Lines, domain.PricedLineItem{
		Variant:  domain.CanonicalVariant{ID: 102, RetailPrice: dec(t, "27"), Name: "Gone"},
		Quantity: 1,
		InStock:  false,
	})

	req, err := newTestBuilder(t).Build(cart)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(req.Items) != 1 {
		t.Fatalf("expected out-of-stock line skipped, got %d items", len(req.Items))
	}
	if req.Items[0].Name != "TEE-M" {
		t.Fatalf("expected SKU fallback, got %q", req.Items[0].Name)
	}
}

func TestCheckoutSessionBuilderRejectsInvalidInput(t *testing.T) {
	builder := newTestBuilder(t)

	cart := validatedEuroCart(t)
	cart.Currency = "???"
	if _, err := builder.Build(cart); !errors.Is(err, money.ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}

	cart = validatedEuroCart(t)
	cart.Lines[0].InStock = false
	if _, err := builder.Build(cart); !errors.Is(err, ErrNoPurchasableItems) {
		t.Fatalf("expected ErrNoPurchasableItems, got %v", err)
	}

	cart = validatedEuroCart(t)
	cart.ShippingOptions[0].Currency = "USD"
	if _, err := builder.Build(cart); err == nil {
		t.Fatalf("expected shipping currency mismatch error")
	}

	if _, err := NewCheckoutSessionBuilder(" ", nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
