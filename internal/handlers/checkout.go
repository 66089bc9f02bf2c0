package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/httpx"
	"github.com/podshop/api/internal/platform/idempotency"
	"github.com/podshop/api/internal/platform/requestctx"
	"github.com/podshop/api/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes the storefront checkout endpoints.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	limiter     *ipRateLimiter
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises checkout handler wiring.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit gives each client IP a token bucket refilled at perMinute per minute and
// holding up to burst requests. perMinute <= 0 disables limiting.
func WithCheckoutRateLimit(perMinute int, burst int) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newIPRateLimiter(perMinute, burst, nil)
	}
}

// WithCheckoutIdempotency wraps session creation with the given idempotency middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/checkout", func(group chi.Router) {
		if h.limiter != nil {
			group.Use(rateLimitMiddleware(h.limiter))
		}
		group.Post("/validate", h.validateCart)
		if h.idempotency != nil {
			group.With(h.idempotency).Post("/session", h.createSession)
		} else {
			group.Post("/session", h.createSession)
		}
	})
}

type checkoutItemPayload struct {
	CatalogProductID int64 `json:"catalogProductId"`
	CatalogVariantID int64 `json:"catalogVariantId"`
	Quantity         int   `json:"quantity"`
}

type checkoutAddressPayload struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	Zip         string `json:"zip"`
	CountryCode string `json:"countryCode"`
}

type cartValidationRequest struct {
	Items   []checkoutItemPayload  `json:"items"`
	Address checkoutAddressPayload `json:"address"`
}

type checkoutSessionRequest struct {
	cartValidationRequest
	Provider string            `json:"provider"`
	Locale   string            `json:"locale"`
	Metadata map[string]string `json:"metadata"`
}

type pricedItemPayload struct {
	CatalogProductID int64  `json:"catalogProductId"`
	CatalogVariantID int64  `json:"catalogVariantId"`
	BaseVariantID    int64  `json:"baseVariantId"`
	Name             string `json:"name"`
	SKU              string `json:"sku,omitempty"`
	ThumbnailURL     string `json:"thumbnailUrl,omitempty"`
	Quantity         int    `json:"quantity"`
	UnitPrice        string `json:"unitPrice"`
	Currency         string `json:"currency"`
	InStock          bool   `json:"inStock"`
}

type droppedItemPayload struct {
	CatalogProductID int64  `json:"catalogProductId"`
	CatalogVariantID int64  `json:"catalogVariantId"`
	Quantity         int    `json:"quantity"`
	Reason           string `json:"reason"`
}

type normalizedAddressPayload struct {
	Line1           string `json:"line1"`
	Line2           string `json:"line2,omitempty"`
	City            string `json:"city"`
	PostalOrZip     string `json:"postalOrZip"`
	Country         string `json:"country"`
	ProvinceOrState string `json:"provinceOrState,omitempty"`
	Status          string `json:"status"`
}

type costsPayload struct {
	Currency string `json:"currency"`
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	VAT      string `json:"vat"`
	Total    string `json:"total"`
}

type shippingOptionPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Rate            string `json:"rate"`
	Currency        string `json:"currency"`
	MinDeliveryDays int    `json:"minDeliveryDays,omitempty"`
	MaxDeliveryDays int    `json:"maxDeliveryDays,omitempty"`
}

type cartValidationResponse struct {
	Currency        string                   `json:"currency"`
	VATFactor       string                   `json:"vatFactor"`
	Items           []pricedItemPayload      `json:"items"`
	Dropped         []droppedItemPayload     `json:"dropped"`
	Address         normalizedAddressPayload `json:"address"`
	Costs           costsPayload             `json:"costs"`
	ShippingOptions []shippingOptionPayload  `json:"shippingOptions"`
}

type checkoutSessionResponse struct {
	AttemptID   string               `json:"attemptId"`
	SessionID   string               `json:"sessionId"`
	Provider    string               `json:"provider"`
	URL         string               `json:"url"`
	ExpiresAt   string               `json:"expiresAt,omitempty"`
	Currency    string               `json:"currency"`
	AmountTotal int64                `json:"amountTotal"`
	VATFactor   string               `json:"vatFactor"`
	Dropped     []droppedItemPayload `json:"dropped"`
}

func (h *CheckoutHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req cartValidationRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}

	result, err := h.checkout.ValidateCart(ctx, req.command())
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartValidationResponse(result))
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutSessionRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}

	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		metadata[key] = value
	}

	key := idempotency.KeyFromContext(ctx)
	if bodyKey, ok := metadata[services.MetadataIdempotencyKey]; ok {
		delete(metadata, services.MetadataIdempotencyKey)
		if key == "" {
			key = idempotency.Scoped(ctx, bodyKey)
		}
	}

	cmd := services.CreateCheckoutSessionCommand{
		Cart:           req.command(),
		PSP:            strings.TrimSpace(req.Provider),
		Locale:         strings.TrimSpace(req.Locale),
		IdempotencyKey: key,
		Metadata:       metadata,
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutSessionResponse{
		AttemptID:   session.AttemptID,
		SessionID:   session.SessionID,
		Provider:    session.Provider,
		URL:         session.RedirectURL,
		Currency:    session.Currency,
		AmountTotal: session.AmountTotal,
		VATFactor:   session.VATFactor.StringFixed(2),
		Dropped:     droppedPayloads(session.Dropped),
	}
	if !session.ExpiresAt.IsZero() {
		payload.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func decodeCheckoutBody(w http.ResponseWriter, r *http.Request, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (req cartValidationRequest) command() services.CartValidationCommand {
	lines := make([]domain.CartLineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.CartLineRequest{
			CatalogProductID: item.CatalogProductID,
			CatalogVariantID: item.CatalogVariantID,
			Quantity:         item.Quantity,
		})
	}
	return services.CartValidationCommand{
		Lines: lines,
		Address: domain.RawAddress{
			Address1:    req.Address.Address1,
			Address2:    req.Address.Address2,
			City:        req.Address.City,
			Zip:         req.Address.Zip,
			CountryCode: req.Address.CountryCode,
		},
	}
}

func buildCartValidationResponse(result services.CartValidationResult) cartValidationResponse {
	resp := cartValidationResponse{
		Currency:        result.Currency,
		VATFactor:       result.VATFactor.StringFixed(2),
		Items:           make([]pricedItemPayload, 0, len(result.Lines)),
		Dropped:         droppedPayloads(result.Dropped),
		ShippingOptions: make([]shippingOptionPayload, 0, len(result.ShippingOptions)),
		Address: normalizedAddressPayload{
			Line1:           result.Address.Line1,
			Line2:           result.Address.Line2,
			City:            result.Address.City,
			PostalOrZip:     result.Address.PostalOrZip,
			Country:         result.Address.Country,
			ProvinceOrState: result.Address.ProvinceOrState,
			Status:          string(result.Address.Status),
		},
		Costs: costsPayload{
			Currency: result.Costs.RetailCosts.Currency,
			Subtotal: result.Costs.RetailCosts.Subtotal.StringFixed(2),
			Discount: result.Costs.RetailCosts.Discount.StringFixed(2),
			Shipping: result.Costs.RetailCosts.Shipping.StringFixed(2),
			Tax:      result.Costs.RetailCosts.Tax.StringFixed(2),
			VAT:      result.Costs.RetailCosts.VAT.StringFixed(2),
			Total:    result.Costs.RetailCosts.Total.StringFixed(2),
		},
	}
	for _, line := range result.Lines {
		resp.Items = append(resp.Items, pricedItemPayload{
			CatalogProductID: line.Variant.CatalogProductID,
			CatalogVariantID: line.Variant.ID,
			BaseVariantID:    line.Variant.BaseVariantID,
			Name:             line.Variant.Name,
			SKU:              line.Variant.SKU,
			ThumbnailURL:     line.Variant.ThumbnailURL,
			Quantity:         line.Quantity,
			UnitPrice:        line.Variant.RetailPrice.StringFixed(2),
			Currency:         line.Variant.Currency,
			InStock:          line.InStock,
		})
	}
	for _, option := range result.ShippingOptions {
		resp.ShippingOptions = append(resp.ShippingOptions, shippingOptionPayload{
			ID:              option.ID,
			Name:            option.DisplayName,
			Rate:            option.Rate.StringFixed(2),
			Currency:        option.Currency,
			MinDeliveryDays: option.MinDeliveryDays,
			MaxDeliveryDays: option.MaxDeliveryDays,
		})
	}
	return resp
}

func droppedPayloads(dropped []domain.DroppedLine) []droppedItemPayload {
	out := make([]droppedItemPayload, 0, len(dropped))
	for _, line := range dropped {
		out = append(out, droppedItemPayload{
			CatalogProductID: line.Line.CatalogProductID,
			CatalogVariantID: line.Line.CatalogVariantID,
			Quantity:         line.Line.Quantity,
			Reason:           string(line.Reason),
		})
	}
	return out
}

type checkoutErrorMapping struct {
	kind    error
	code    string
	message string
	status  int
}

var checkoutErrorMappings = []checkoutErrorMapping{
	{services.ErrInvalidPayload, "invalid_request", "cart or address payload is invalid", http.StatusBadRequest},
	{services.ErrNoPurchasableItems, "no_purchasable_items", "no cart item can be purchased", http.StatusBadRequest},
	{services.ErrCountryNotServed, "country_not_served", "we do not ship to this country", http.StatusBadRequest},
	{services.ErrAddressInvalid, "address_invalid", "shipping address is invalid", http.StatusBadRequest},
	{services.ErrAddressUnverifiable, "address_unverifiable", "shipping address could not be verified", http.StatusBadRequest},
	{services.ErrAddressVerificationUnavailable, "address_verification_unavailable", "address verification is unavailable", http.StatusBadGateway},
	{services.ErrEstimationFailed, "estimation_failed", "shipping could not be estimated", http.StatusBadGateway},
	{services.ErrSessionCreationFailed, "session_creation_failed", "payment session could not be created", http.StatusBadGateway},
	{services.ErrCatalogUnavailable, "catalog_unavailable", "catalog is temporarily unavailable", http.StatusServiceUnavailable},
	{services.ErrCheckoutUnavailable, "checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable},
	{services.ErrProductNotFound, "product_not_found", "product not found", http.StatusNotFound},
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	apiErr := httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError)
	for _, mapping := range checkoutErrorMappings {
		if errors.Is(err, mapping.kind) {
			apiErr = httpx.NewError(mapping.code, mapping.message, mapping.status)
			break
		}
	}

	details := map[string]any{}
	if stage, ok := services.StageOf(err); ok {
		details["stage"] = string(stage)
	}
	var payloadErr *services.PayloadError
	if errors.As(err, &payloadErr) && len(payloadErr.Violations) > 0 {
		violations := make([]map[string]string, 0, len(payloadErr.Violations))
		for _, v := range payloadErr.Violations {
			violations = append(violations, map[string]string{"field": v.Field, "message": v.Message})
		}
		details["violations"] = violations
	}

	if apiErr.Status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Warn("checkout request failed",
			zap.String("code", apiErr.Code),
			zap.Int("status", apiErr.Status),
			zap.Error(err),
		)
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}
