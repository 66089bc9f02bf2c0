package supplier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/money"
)

// CostItem is the cost estimate projection of a line: store variant id with the retail unit price.
type CostItem struct {
	Quantity      int
	SyncVariantID int64
	RetailPrice   decimal.Decimal
}

// RateItem is the shipping rate projection of a line, keyed by the external variant id.
type RateItem struct {
	Quantity          int
	ExternalVariantID string
}

type recipient struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type costItemPayload struct {
	Quantity      int    `json:"quantity"`
	SyncVariantID int64  `json:"sync_variant_id"`
	RetailPrice   string `json:"retail_price"`
}

type estimateCostsRequest struct {
	Recipient recipient         `json:"recipient"`
	Items     []costItemPayload `json:"items"`
	Locale    string            `json:"locale,omitempty"`
}

type costsPayload struct {
	Currency string          `json:"currency"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	VAT      decimal.Decimal `json:"vat"`
	Total    decimal.Decimal `json:"total"`
}

type estimateCostsResult struct {
	Costs       *costsPayload `json:"costs"`
	RetailCosts *costsPayload `json:"retail_costs"`
}

type rateItemPayload struct {
	Quantity          int    `json:"quantity"`
	ExternalVariantID string `json:"external_variant_id"`
}

type shippingRatesRequest struct {
	Recipient recipient         `json:"recipient"`
	Items     []rateItemPayload `json:"items"`
	Currency  string            `json:"currency,omitempty"`
	Locale    string            `json:"locale,omitempty"`
}

type shippingRate struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Rate            decimal.Decimal `json:"rate"`
	Currency        string          `json:"currency"`
	MinDeliveryDays int             `json:"minDeliveryDays"`
	MaxDeliveryDays int             `json:"maxDeliveryDays"`
}

// EstimateCosts requests the supplier cost and retail cost breakdown for the given lines.
// A response without a cost breakdown is ErrEmptyResult; zero costs are never assumed.
func (c *Client) EstimateCosts(ctx context.Context, addr domain.NormalizedAddress, items []CostItem) (domain.CostEstimate, error) {
	if len(items) == 0 {
		return domain.CostEstimate{}, fmt.Errorf("%w: no items to estimate", ErrInvalidRequest)
	}

	payload := estimateCostsRequest{
		Recipient: recipientFrom(addr),
		Items:     make([]costItemPayload, 0, len(items)),
		Locale:    c.locale,
	}
	for _, item := range items {
		payload.Items = append(payload.Items, costItemPayload{
			Quantity:      item.Quantity,
			SyncVariantID: item.SyncVariantID,
			RetailPrice:   item.RetailPrice.StringFixed(2),
		})
	}

	var result estimateCostsResult
	if err := c.call(ctx, "orders.estimate_costs", http.MethodPost, "/orders/estimate-costs", true, payload, &result); err != nil {
		return domain.CostEstimate{}, err
	}
	if result.Costs == nil {
		return domain.CostEstimate{}, fmt.Errorf("%w: cost estimate missing costs", ErrEmptyResult)
	}

	estimate := domain.CostEstimate{Costs: breakdown(*result.Costs)}
	if result.RetailCosts != nil {
		estimate.RetailCosts = breakdown(*result.RetailCosts)
	}
	return estimate, nil
}

// RateOptions requests the shipping options available for the given lines and address.
func (c *Client) RateOptions(ctx context.Context, addr domain.NormalizedAddress, items []RateItem, currency string) ([]domain.ShippingOption, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to rate", ErrInvalidRequest)
	}

	payload := shippingRatesRequest{
		Recipient: recipientFrom(addr),
		Items:     make([]rateItemPayload, 0, len(items)),
		Currency:  strings.ToUpper(strings.TrimSpace(currency)),
		Locale:    c.locale,
	}
	for _, item := range items {
		payload.Items = append(payload.Items, rateItemPayload{
			Quantity:          item.Quantity,
			ExternalVariantID: item.ExternalVariantID,
		})
	}

	var rates []shippingRate
	if err := c.call(ctx, "shipping.rates", http.MethodPost, "/shipping/rates", true, payload, &rates); err != nil {
		return nil, err
	}

	options := make([]domain.ShippingOption, 0, len(rates))
	for _, rate := range rates {
		id := strings.TrimSpace(rate.ID)
		if id == "" || rate.Rate.IsNegative() {
			continue
		}
		rateCurrency, err := money.NormalizeCurrency(rate.Currency)
		if err != nil {
			rateCurrency = payload.Currency
		}
		name := strings.TrimSpace(rate.Name)
		if name == "" {
			name = id
		}
		options = append(options, domain.ShippingOption{
			ID:              id,
			DisplayName:     name,
			Rate:            rate.Rate,
			Currency:        rateCurrency,
			MinDeliveryDays: rate.MinDeliveryDays,
			MaxDeliveryDays: rate.MaxDeliveryDays,
		})
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: no usable shipping rates", ErrEmptyResult)
	}
	return options, nil
}

func recipientFrom(addr domain.NormalizedAddress) recipient {
	return recipient{
		Address1:    addr.Line1,
		Address2:    addr.Line2,
		City:        addr.City,
		StateCode:   addr.ProvinceOrState,
		CountryCode: strings.ToUpper(addr.Country),
		Zip:         addr.PostalOrZip,
	}
}

func breakdown(p costsPayload) domain.CostBreakdown {
	return domain.CostBreakdown{
		Currency: strings.ToUpper(strings.TrimSpace(p.Currency)),
		Subtotal: p.Subtotal,
		Discount: p.Discount,
		Shipping: p.Shipping,
		Tax:      p.Tax,
		VAT:      p.VAT,
		Total:    p.Total,
	}
}
