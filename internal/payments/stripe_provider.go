package payments

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Stripe Checkout sessions expire after 24h by default; the storefront asks for less.
const stripeSessionTTL = 30 * time.Minute

// StripeLogger receives provider events such as "payments.stripe.session.created".
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeTaxRateAPI interface {
	New(params *stripe.TaxRateParams) (*stripe.TaxRate, error)
}

type StripeProviderConfig struct {
	APIKey string
	// AccountID targets a connected account when set.
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
}

// StripeProvider creates Stripe Checkout sessions. When the request carries a positive tax rate,
// a matching Stripe tax rate is created first and attached to every line.
type StripeProvider struct {
	sessions stripeSessionAPI
	taxRates stripeTaxRateAPI
	account  string
	now      func() time.Time
	log      StripeLogger
}

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(key, cfg.Backends)
	return newStripeProvider(cfg, sc.CheckoutSessions, sc.TaxRates)
}

func newStripeProvider(cfg StripeProviderConfig, sessions stripeSessionAPI, taxRates stripeTaxRateAPI) (*StripeProvider, error) {
	if sessions == nil || taxRates == nil {
		return nil, errors.New("stripe: session and tax rate clients are required")
	}
	p := &StripeProvider{
		sessions: sessions,
		taxRates: taxRates,
		account:  strings.TrimSpace(cfg.AccountID),
		now:      time.Now,
		log:      cfg.Logger,
	}
	if cfg.Clock != nil {
		p.now = cfg.Clock
	}
	if p.log == nil {
		p.log = func(context.Context, string, map[string]any) {}
	}
	return p, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return CheckoutSession{}, err
	}

	var taxRateID string
	if req.TaxRate != nil && req.TaxRate.Percentage.IsPositive() {
		rate, err := p.createTaxRate(ctx, req)
		if err != nil {
			return CheckoutSession{}, err
		}
		taxRateID = rate.ID
	}

	params := p.sessionParams(req, taxRateID)
	p.scope(ctx, &params.Params, req.IdempotencyKey)
	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	p.log(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"taxRateId": taxRateID,
		"lines":     len(params.LineItems),
		"shipping":  len(params.ShippingOptions),
	})

	out := CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		TaxRateID:   taxRateID,
		AmountTotal: session.AmountTotal,
		ExpiresAt:   p.now().UTC().Add(stripeSessionTTL),
	}
	if session.ExpiresAt != 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	if out.AmountTotal == 0 {
		// Stripe omits the total until tax is computed on some accounts.
		out.AmountTotal = req.AmountTotal()
	}
	return out, nil
}

// scope attaches the request context, idempotency key and connected account to a Stripe call.
func (p *StripeProvider) scope(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

func (p *StripeProvider) createTaxRate(ctx context.Context, req CheckoutSessionRequest) (*stripe.TaxRate, error) {
	tax := req.TaxRate
	name := tax.DisplayName
	if strings.TrimSpace(name) == "" {
		name = "VAT"
	}
	params := &stripe.TaxRateParams{
		DisplayName: stripe.String(name),
		Percentage:  stripe.Float64(tax.Percentage.InexactFloat64()),
		Inclusive:   stripe.Bool(tax.Inclusive),
	}
	if tax.Country != "" {
		params.Country = stripe.String(strings.ToUpper(tax.Country))
	}
	var key string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = k + ":tax-rate"
	}
	p.scope(ctx, &params.Params, key)

	rate, err := p.taxRates.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create tax rate: %w", err)
	}
	p.log(ctx, "payments.stripe.tax_rate.created", map[string]any{"taxRateId": rate.ID, "percentage": tax.Percentage.String()})
	return rate, nil
}

func (p *StripeProvider) sessionParams(req CheckoutSessionRequest, taxRateID string) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.Locale != "" {
		params.Locale = stripe.String(stripeLocale(req.Locale))
	}
	if len(req.Metadata) > 0 {
		params.Metadata = maps.Clone(req.Metadata)
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: maps.Clone(req.Metadata)}
	}
	if len(req.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(req.AllowedCountries),
		}
	}

	var taxRates []*string
	if taxRateID != "" {
		taxRates = []*string{stripe.String(taxRateID)}
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, lineItemParams(item, currency, taxRates))
	}
	for _, option := range req.ShippingOptions {
		params.ShippingOptions = append(params.ShippingOptions, &stripe.CheckoutSessionShippingOptionParams{
			ShippingRateData: shippingRateParams(option, currency),
		})
	}
	return params
}

func lineItemParams(item CheckoutLineItem, currency string, taxRates []*string) *stripe.CheckoutSessionLineItemParams {
	if item.Currency != "" {
		currency = strings.ToLower(item.Currency)
	}
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)}
	if item.ImageURL != "" {
		product.Images = []*string{stripe.String(item.ImageURL)}
	}
	if item.SKU != "" {
		product.Metadata = map[string]string{"sku": item.SKU}
	}
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(item.Quantity),
		TaxRates: taxRates,
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(currency),
			UnitAmount:  stripe.Int64(item.UnitAmount),
			ProductData: product,
		},
	}
}

func shippingRateParams(option ShippingOption, currency string) *stripe.CheckoutSessionShippingOptionShippingRateDataParams {
	if option.Currency != "" {
		currency = strings.ToLower(option.Currency)
	}
	label := option.DisplayName
	if strings.TrimSpace(label) == "" {
		label = option.ID
	}
	data := &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
		Type:        stripe.String("fixed_amount"),
		DisplayName: stripe.String(label),
		FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
			Amount:   stripe.Int64(option.Amount),
			Currency: stripe.String(currency),
		},
	}
	if option.ID != "" {
		data.Metadata = map[string]string{"supplier_rate_id": option.ID}
	}
	if option.MinDeliveryDays <= 0 && option.MaxDeliveryDays <= 0 {
		return data
	}
	estimate := &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{}
	if option.MinDeliveryDays > 0 {
		estimate.Minimum = &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
			Unit:  stripe.String("business_day"),
			Value: stripe.Int64(int64(option.MinDeliveryDays)),
		}
	}
	if option.MaxDeliveryDays > 0 {
		estimate.Maximum = &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
			Unit:  stripe.String("business_day"),
			Value: stripe.Int64(int64(option.MaxDeliveryDays)),
		}
	}
	data.DeliveryEstimate = estimate
	return data
}

// stripeLocale maps a storefront locale to one Checkout accepts: most locales only by language,
// en-GB and pt-BR with their region.
func stripeLocale(locale string) string {
	l := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(locale)), "_", "-")
	if l == "en-gb" || l == "pt-br" {
		return l
	}
	lang, _, _ := strings.Cut(l, "-")
	return lang
}
