package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/platform/idempotency"
	"github.com/podshop/api/internal/platform/requestctx"
	"github.com/podshop/api/internal/services"
)

type stubCheckoutService struct {
	validateFunc func(context.Context, services.CartValidationCommand) (services.CartValidationResult, error)
	createFunc   func(context.Context, services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error)
	createCalls  int
}

func (s *stubCheckoutService) ValidateCart(ctx context.Context, cmd services.CartValidationCommand) (services.CartValidationResult, error) {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, cmd)
	}
	return services.CartValidationResult{}, nil
}

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
	s.createCalls++
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.CheckoutSessionResult{}, nil
}

const sampleCartBody = `{"items":[{"catalogProductId":7,"catalogVariantId":101,"quantity":2}],"address":{"address1":"Brivibas 1","city":"Riga","zip":"LV-1010","countryCode":"lv"}}`

func TestCheckoutHandlersValidateCartSuccess(t *testing.T) {
	var captured services.CartValidationCommand
	service := &stubCheckoutService{
		validateFunc: func(_ context.Context, cmd services.CartValidationCommand) (services.CartValidationResult, error) {
			captured = cmd
			return services.CartValidationResult{
				Currency:  "EUR",
				VATFactor: decimal.RequireFromString("1.21"),
				Lines: []domain.PricedLineItem{{
					Variant:  domain.CanonicalVariant{ID: 101, CatalogProductID: 7, BaseVariantID: 55, Name: "Tee", RetailPrice: decimal.RequireFromString("25"), Currency: "EUR"},
					Quantity: 2,
					InStock:  true,
				}},
				Dropped: []domain.DroppedLine{{Line: domain.CartLineRequest{CatalogProductID: 8, CatalogVariantID: 202, Quantity: 1}, Reason: domain.DropOutOfStock}},
				Address: domain.NormalizedAddress{Line1: "Brivibas 1", City: "Riga", PostalOrZip: "LV-1010", Country: "LV", Status: domain.VerificationVerified},
				Costs: domain.CostEstimate{RetailCosts: domain.CostBreakdown{
					Currency: "EUR",
					Subtotal: decimal.RequireFromString("50"),
					Shipping: decimal.RequireFromString("10"),
					Total:    decimal.RequireFromString("72.6"),
				}},
				ShippingOptions: []domain.ShippingOption{{ID: "STANDARD", DisplayName: "Standard", Rate: decimal.RequireFromString("4.99"), Currency: "EUR", MinDeliveryDays: 3, MaxDeliveryDays: 5}},
			}, nil
		},
	}

	router := chi.NewRouter()
	NewCheckoutHandlers(service).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/checkout/validate", bytes.NewBufferString(sampleCartBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Lines) != 1 || captured.Lines[0].CatalogVariantID != 101 || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected command lines %+v", captured.Lines)
	}
	if captured.Address.CountryCode != "lv" || captured.Address.Zip != "LV-1010" {
		t.Fatalf("unexpected command address %+v", captured.Address)
	}

	var resp cartValidationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.VATFactor != "1.21" || resp.Currency != "EUR" {
		t.Fatalf("unexpected totals %+v", resp)
	}
	if len(resp.Items) != 1 || resp.Items[0].UnitPrice != "25.00" || !resp.Items[0].InStock {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if len(resp.Dropped) != 1 || resp.Dropped[0].Reason != "out_of_stock" {
		t.Fatalf("unexpected dropped %+v", resp.Dropped)
	}
	if resp.Costs.Total != "72.60" || resp.Costs.Subtotal != "50.00" {
		t.Fatalf("unexpected costs %+v", resp.Costs)
	}
	if resp.Address.Status != "verified" || len(resp.ShippingOptions) != 1 || resp.ShippingOptions[0].Rate != "4.99" {
		t.Fatalf("unexpected address or shipping %+v", resp)
	}
}

func TestCheckoutHandlersCreateSessionSuccess(t *testing.T) {
	var captured services.CreateCheckoutSessionCommand
	service := &stubCheckoutService{
		createFunc: func(_ context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
			captured = cmd
			return services.CheckoutSessionResult{
				AttemptID:   "01HATTEMPT",
				SessionID:   "cs_test_123",
				Provider:    "stripe",
				RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_123",
				ExpiresAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
				Currency:    "EUR",
				AmountTotal: 7260,
				VATFactor:   decimal.RequireFromString("1.21"),
			}, nil
		},
	}

	router := chi.NewRouter()
	mw := idempotency.Middleware(idempotency.NewMemoryStore())
	NewCheckoutHandlers(service, WithCheckoutIdempotency(mw)).Routes(router)

	payload := `{"items":[{"catalogProductId":7,"catalogVariantId":101,"quantity":2}],"address":{"address1":"Brivibas 1","city":"Riga","zip":"LV-1010","countryCode":"LV"},"provider":" stripe ","locale":"lv","metadata":{"campaign":"spring"," ":"skip"}}`

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout/session", bytes.NewBufferString(payload))
		req.Header.Set("Idempotency-Key", "cart-42")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := send()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PSP != "stripe" || captured.Locale != "lv" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.IdempotencyKey != "anonymous|cart-42" {
		t.Fatalf("expected client-scoped idempotency key from header, got %q", captured.IdempotencyKey)
	}
	if len(captured.Metadata) != 1 || captured.Metadata["campaign"] != "spring" {
		t.Fatalf("unexpected metadata %+v", captured.Metadata)
	}
	if len(captured.Cart.Lines) != 1 {
		t.Fatalf("expected cart lines to be forwarded, got %+v", captured.Cart)
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "cs_test_123" || resp.URL == "" || resp.AmountTotal != 7260 || resp.VATFactor != "1.21" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.ExpiresAt != "2025-03-01T12:00:00Z" {
		t.Fatalf("unexpected expiresAt %s", resp.ExpiresAt)
	}

	replay := send()
	if replay.Code != http.StatusOK {
		t.Fatalf("expected replayed status 200, got %d", replay.Code)
	}
	if service.createCalls != 1 {
		t.Fatalf("expected replay to skip the service, got %d calls", service.createCalls)
	}
}

func TestCheckoutHandlersScopesMetadataIdempotencyKey(t *testing.T) {
	var captured []services.CreateCheckoutSessionCommand
	service := &stubCheckoutService{
		createFunc: func(_ context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
			captured = append(captured, cmd)
			return services.CheckoutSessionResult{SessionID: "cs_1", Provider: "stripe", Currency: "EUR", VATFactor: decimal.RequireFromString("1.21")}, nil
		},
	}
	router := chi.NewRouter()
	NewCheckoutHandlers(service).Routes(router)

	payload := `{"items":[{"catalogProductId":7,"catalogVariantId":101,"quantity":2}],"address":{"address1":"Brivibas 1","city":"Riga","zip":"LV-1010","countryCode":"LV"},"metadata":{"idempotencyKey":"shared","campaign":"spring"}}`
	for _, ip := range []string{"203.0.113.7", "198.51.100.9"} {
		req := httptest.NewRequest(http.MethodPost, "/checkout/session", bytes.NewBufferString(payload))
		req = req.WithContext(requestctx.WithClient(req.Context(), requestctx.ClientInfo{RemoteIP: ip}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	}

	if len(captured) != 2 {
		t.Fatalf("expected two sessions, got %d", len(captured))
	}
	if captured[0].IdempotencyKey != "ip:203.0.113.7|shared" || captured[1].IdempotencyKey != "ip:198.51.100.9|shared" {
		t.Fatalf("expected per-client keys, got %q and %q", captured[0].IdempotencyKey, captured[1].IdempotencyKey)
	}
	if _, ok := captured[0].Metadata[services.MetadataIdempotencyKey]; ok || captured[0].Metadata["campaign"] != "spring" {
		t.Fatalf("expected key moved out of metadata, got %+v", captured[0].Metadata)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantStage  string
	}{
		{
			name:       "payload violations",
			err:        &services.StageError{Stage: services.StageParse, Kind: services.ErrInvalidPayload, Err: &services.PayloadError{Violations: []services.FieldViolation{{Field: "items[0].quantity", Message: "must be between 1 and 100"}}}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
			wantStage:  "parse",
		},
		{
			name:       "nothing purchasable",
			err:        &services.StageError{Stage: services.StageStock, Kind: services.ErrNoPurchasableItems},
			wantStatus: http.StatusBadRequest,
			wantCode:   "no_purchasable_items",
			wantStage:  "stock",
		},
		{
			name:       "country not served",
			err:        &services.StageError{Stage: services.StageAddress, Kind: services.ErrCountryNotServed},
			wantStatus: http.StatusBadRequest,
			wantCode:   "country_not_served",
			wantStage:  "address",
		},
		{
			name:       "address verification down",
			err:        &services.StageError{Stage: services.StageAddress, Kind: services.ErrAddressVerificationUnavailable, Err: errors.New("dial tcp: timeout")},
			wantStatus: http.StatusBadGateway,
			wantCode:   "address_verification_unavailable",
			wantStage:  "address",
		},
		{
			name:       "catalog unavailable",
			err:        &services.StageError{Stage: services.StageCatalog, Kind: services.ErrCatalogUnavailable},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "catalog_unavailable",
			wantStage:  "catalog",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "checkout_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCheckoutService{
				validateFunc: func(context.Context, services.CartValidationCommand) (services.CartValidationResult, error) {
					return services.CartValidationResult{}, tc.err
				},
			}
			router := chi.NewRouter()
			NewCheckoutHandlers(service).Routes(router)

			req := httptest.NewRequest(http.MethodPost, "/checkout/validate", bytes.NewBufferString(sampleCartBody))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body struct {
				Error   string         `json:"error"`
				Details map[string]any `json:"details"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode error: %v", err)
			}
			if body.Error != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, body.Error)
			}
			if tc.wantStage != "" && body.Details["stage"] != tc.wantStage {
				t.Fatalf("expected stage %s, got %v", tc.wantStage, body.Details["stage"])
			}
			if tc.wantCode == "invalid_request" {
				violations, ok := body.Details["violations"].([]any)
				if !ok || len(violations) != 1 {
					t.Fatalf("expected one violation, got %v", body.Details["violations"])
				}
			}
		})
	}
}

func TestCheckoutHandlersRejectsMalformedBody(t *testing.T) {
	service := &stubCheckoutService{}
	router := chi.NewRouter()
	NewCheckoutHandlers(service).Routes(router)

	for _, body := range []string{"", "{not json"} {
		req := httptest.NewRequest(http.MethodPost, "/checkout/validate", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected status 400, got %d", body, rr.Code)
		}
	}
}

func TestCheckoutHandlersRateLimit(t *testing.T) {
	service := &stubCheckoutService{}
	router := chi.NewRouter()
	NewCheckoutHandlers(service, WithCheckoutRateLimit(1, 2)).Routes(router)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/checkout/validate", bytes.NewBufferString(sampleCartBody))
		req.RemoteAddr = "203.0.113.5:4711"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", last.Code)
	}
	if got := last.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/validate", bytes.NewBufferString(sampleCartBody))
	req.RemoteAddr = "198.51.100.7:4711"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rr.Code)
	}
}

func TestCheckoutHandlersWithoutService(t *testing.T) {
	router := chi.NewRouter()
	NewCheckoutHandlers(nil).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/checkout/session", bytes.NewBufferString(sampleCartBody))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
