package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/services"
)

type routerStubSystemService struct {
	report services.ReadinessReport
}

func (s *routerStubSystemService) HealthReport(context.Context) (services.ReadinessReport, error) {
	return s.report, nil
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	return body.Error
}

func TestRouterServesProbesAndPlaceholders(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthSystemService(&routerStubSystemService{report: services.ReadinessReport{
			Status: domain.HealthOK,
			Probes: map[string]domain.ProbeResult{"supplier": {Status: domain.HealthOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)))

	cases := []struct {
		method, target string
		wantStatus     int
		wantCode       string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, ""},
		{http.MethodGet, "/readyz", http.StatusOK, ""},
		{http.MethodPost, "/api/v1/checkout/validate", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/api/v1/products/71/availability", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/api/v1/orders", http.StatusNotFound, "route_not_found"},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			rr := serve(router, tc.method, tc.target)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected JSON response, got %q", ct)
			}
			if tc.wantCode != "" && errorCode(t, rr) != tc.wantCode {
				t.Fatalf("expected error %s", tc.wantCode)
			}
		})
	}
}

func TestRouterMountsRegistrarsUnderAPIPrefix(t *testing.T) {
	var gotProduct string
	router := NewRouter(WithProductRoutes(func(r chi.Router) {
		r.Get("/products/{productId}/availability", func(w http.ResponseWriter, req *http.Request) {
			gotProduct = chi.URLParam(req, "productId")
			w.WriteHeader(http.StatusNoContent)
		})
	}))

	rr := serve(router, http.MethodGet, "/api/v1//products/71/availability")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotProduct != "71" {
		t.Fatalf("expected product id 71, got %q", gotProduct)
	}

	if rr := serve(router, http.MethodPost, "/api/v1/checkout/session"); rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected checkout group to stay unimplemented, got %d", rr.Code)
	}
}

func TestRouterRunsGlobalMiddlewareAfterRequestID(t *testing.T) {
	var requestID string
	router := NewRouter(WithMiddlewares(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID = middleware.GetReqID(r.Context())
			next.ServeHTTP(w, r)
		})
	}))

	serve(router, http.MethodGet, "/healthz")
	if requestID == "" {
		t.Fatalf("expected request id to be assigned before custom middleware")
	}
}
