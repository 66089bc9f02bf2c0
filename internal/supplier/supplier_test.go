package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshop/api/internal/domain"
)

type fakeSupplier struct {
	t        *testing.T
	mux      *http.ServeMux
	requests atomic.Int32
}

func newFakeSupplier(t *testing.T) (*fakeSupplier, *httptest.Server) {
	t.Helper()
	f := &fakeSupplier{t: t, mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSupplier) handle(pattern string, status int, body string) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL: srv.URL,
		Token:   "secret-token",
		StoreID: "store-9",
		Timeout: time.Second,
	})
	require.NoError(t, err)
	return client
}

const storeProduct10 = `{"code":200,"result":{
	"sync_product":{"id":10,"name":"Tee","thumbnail_url":"https://img/tee.png"},
	"sync_variants":[
		{"id":101,"external_id":"ext-101","sync_product_id":10,"name":"Tee / M","variant_id":55,
		 "retail_price":"25.00","currency":"EUR","sku":"TEE-M","product":{"variant_id":55,"product_id":71,"image":"https://img/55.png"}},
		{"id":102,"external_id":"ext-102","sync_product_id":10,"name":"Tee / L","variant_id":56,
		 "retail_price":"oops","currency":"EUR","product":{"variant_id":56,"product_id":71}}
	]}}`

func TestResolveVariantsKeepsSuccessfulLookups(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.mux.HandleFunc("/store/products/10", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "store-9", r.Header.Get(storeIDHeader))
		_, _ = io.WriteString(w, storeProduct10)
	})
	fake.handle("/store/products/11", http.StatusInternalServerError, `{"code":500}`)

	client := newTestClient(t, srv)
	resolved, err := client.ResolveVariants(context.Background(), []int64{10, 11, 10})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	variants := resolved[10]
	require.Len(t, variants, 1)

	variant := variants[0]
	assert.Equal(t, int64(101), variant.ID)
	assert.Equal(t, int64(10), variant.CatalogProductID)
	assert.Equal(t, int64(71), variant.BaseProductID)
	assert.Equal(t, int64(55), variant.BaseVariantID)
	assert.True(t, variant.RetailPrice.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, "EUR", variant.Currency)
	assert.Equal(t, "ext-101", variant.ExternalID)
	assert.Equal(t, "https://img/55.png", variant.ThumbnailURL)
	assert.Equal(t, int32(2), fake.requests.Load())
}

func TestResolveVariantsIsRepeatable(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.handle("/store/products/10", http.StatusOK, storeProduct10)
	client := newTestClient(t, srv)

	first, err := client.ResolveVariants(context.Background(), []int64{10})
	require.NoError(t, err)
	second, err := client.ResolveVariants(context.Background(), []int64{10})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveVariantsFailsWhenNothingResolves(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.handle("/store/products/10", http.StatusBadGateway, `{}`)
	fake.handle("/store/products/11", http.StatusOK, `{"code":200,"result":null}`)

	client := newTestClient(t, srv)
	_, err := client.ResolveVariants(context.Background(), []int64{10, 11})
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestResolveAvailabilityFailClosed(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.mux.HandleFunc("/products/variant/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(storeIDHeader))
		_, _ = io.WriteString(w, `{"code":200,"result":{"variant":{"id":1,"product_id":71,
			"availability_status":[{"region":"EU_CENTRAL","status":"in_stock"},{"region":"US","status":"out_of_stock"}]}}}`)
	})
	fake.handle("/products/variant/2", http.StatusNotFound, `{"code":404}`)

	client := newTestClient(t, srv)
	records, err := client.ResolveAvailability(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, records, 1)

	index := domain.IndexAvailability(records)
	assert.True(t, domain.IsPurchasable(index, 1, "EU"))
	assert.False(t, domain.IsPurchasable(index, 2, "EU"))
}

func TestResolveAvailabilityAllFailed(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.handle("/products/variant/1", http.StatusServiceUnavailable, `{}`)

	client := newTestClient(t, srv)
	_, err := client.ResolveAvailability(context.Background(), []int64{1})
	assert.ErrorIs(t, err, ErrNoResults)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestResolveProductAvailability(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.handle("/products/71", http.StatusOK, `{"code":200,"result":{"product":{"id":71},"variants":[
		{"id":55,"availability_status":[{"region":"EU_WEST","status":"In_Stock"}]},
		{"id":56,"availability_status":[{"region":"EU_WEST","status":"discontinued"}]}]}}`)

	client := newTestClient(t, srv)
	records, err := client.ResolveProductAvailability(context.Background(), 71)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].InStockIn("EU"))
	assert.False(t, records[1].InStockIn("EU"))
}

func TestEstimateCosts(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.mux.HandleFunc("/orders/estimate-costs", func(w http.ResponseWriter, r *http.Request) {
		var req estimateCostsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "DE", req.Recipient.CountryCode)
		assert.Equal(t, "10115", req.Recipient.Zip)
		require.Len(t, req.Items, 1)
		assert.Equal(t, int64(101), req.Items[0].SyncVariantID)
		assert.Equal(t, "25.00", req.Items[0].RetailPrice)
		assert.Equal(t, 2, req.Items[0].Quantity)
		_, _ = io.WriteString(w, `{"code":200,"result":{
			"costs":{"currency":"EUR","subtotal":50,"discount":0,"shipping":10,"tax":0,"vat":12.6,"total":72.6},
			"retail_costs":{"currency":"EUR","subtotal":"50.00","discount":"0.00","shipping":"10.00","tax":"0.00","total":"60.00"}}}`)
	})

	client := newTestClient(t, srv)
	estimate, err := client.EstimateCosts(context.Background(), domain.NormalizedAddress{
		Line1: "Main St 1", City: "Berlin", PostalOrZip: "10115", Country: "de",
	}, []CostItem{{Quantity: 2, SyncVariantID: 101, RetailPrice: decimal.RequireFromString("25")}})
	require.NoError(t, err)

	assert.True(t, estimate.Costs.Total.Equal(decimal.RequireFromString("72.6")))
	assert.True(t, estimate.RetailCosts.Shipping.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "EUR", estimate.Costs.Currency)
}

func TestEstimateCostsEmptyResult(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.handle("/orders/estimate-costs", http.StatusOK, `{"code":200,"result":{"retail_costs":{"total":1}}}`)

	client := newTestClient(t, srv)
	_, err := client.EstimateCosts(context.Background(), domain.NormalizedAddress{Country: "DE"},
		[]CostItem{{Quantity: 1, SyncVariantID: 1, RetailPrice: decimal.NewFromInt(1)}})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestRateOptions(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.mux.HandleFunc("/shipping/rates", func(w http.ResponseWriter, r *http.Request) {
		var req shippingRatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "EUR", req.Currency)
		require.Len(t, req.Items, 1)
		assert.Equal(t, "ext-101", req.Items[0].ExternalVariantID)
		_, _ = io.WriteString(w, `{"code":200,"result":[
			{"id":"STANDARD","name":"Standard","rate":"10.00","currency":"EUR","minDeliveryDays":3,"maxDeliveryDays":5},
			{"id":"","name":"broken","rate":"1.00","currency":"EUR"}]}`)
	})

	client := newTestClient(t, srv)
	options, err := client.RateOptions(context.Background(), domain.NormalizedAddress{Country: "DE"},
		[]RateItem{{Quantity: 2, ExternalVariantID: "ext-101"}}, "eur")
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "STANDARD", options[0].ID)
	assert.True(t, options[0].Rate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 3, options[0].MinDeliveryDays)
}

func TestRateOptionsEmptyAndFailure(t *testing.T) {
	fake, srv := newFakeSupplier(t)
	fake.handle("/shipping/rates", http.StatusOK, `{"code":200,"result":[]}`)
	client := newTestClient(t, srv)

	_, err := client.RateOptions(context.Background(), domain.NormalizedAddress{Country: "DE"},
		[]RateItem{{Quantity: 1, ExternalVariantID: "x"}}, "EUR")
	assert.ErrorIs(t, err, ErrEmptyResult)

	fake2, srv2 := newFakeSupplier(t)
	fake2.handle("/shipping/rates", http.StatusBadRequest, `{"code":400,"error":{"message":"bad"}}`)
	client2 := newTestClient(t, srv2)
	_, err = client2.RateOptions(context.Background(), domain.NormalizedAddress{Country: "DE"},
		[]RateItem{{Quantity: 1, ExternalVariantID: "x"}}, "EUR")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.False(t, errors.Is(err, ErrEmptyResult))
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{BaseURL: "https://api.example.com"})
	assert.Error(t, err)
}
