package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshop/api/internal/payments"
	"github.com/podshop/api/internal/platform/config"
	"github.com/podshop/api/internal/platform/idempotency"
	"github.com/podshop/api/internal/services"
)

type nopProvider struct{}

func (nopProvider) CreateCheckoutSession(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	return payments.CheckoutSession{}, errors.New("not used")
}

func localConfig() config.Config {
	return config.Config{
		Supplier: config.SupplierConfig{
			BaseURL:     "http://127.0.0.1:1",
			Token:       "token",
			Timeout:     time.Second,
			FanoutLimit: 4,
		},
		AddressVerification: config.AddressVerificationConfig{
			BaseURL: "http://127.0.0.1:1",
			APIKey:  "key",
			Timeout: time.Second,
		},
		Checkout: config.CheckoutConfig{
			BaseURL:          "https://shop.example",
			AllowedCountries: []string{"DE", "LV"},
			StockRegionToken: "EU",
			MaxLines:         50,
			MaxQuantity:      100,
		},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour, Store: "memory"},
	}
}

func TestNewContainerWithoutCloudBackends(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, localConfig(),
		WithPaymentProviders(map[string]payments.Provider{"stripe": nopProvider{}}),
		WithBuildInfo(services.BuildInfo{Version: "test"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	assert.NotNil(t, c.Services.Checkout)
	assert.NotNil(t, c.Services.Availability)
	assert.NotNil(t, c.Services.System)
	assert.IsType(t, &idempotency.MemoryStore{}, c.Idempotency)
	assert.Empty(t, c.closers)
}

func TestNewContainerRejectsMissingSupplierToken(t *testing.T) {
	cfg := localConfig()
	cfg.Supplier.Token = ""

	_, err := NewContainer(context.Background(), cfg,
		WithPaymentProviders(map[string]payments.Provider{"stripe": nopProvider{}}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supplier")
}

func TestContainerCloseRunsClosersInReverse(t *testing.T) {
	var order []int
	c := &Container{closers: []func(context.Context) error{
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return errors.New("close failed") },
	}}

	err := c.Close(context.Background())
	require.Error(t, err)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, c.Close(context.Background()))
}
