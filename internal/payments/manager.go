package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider is a payment service provider adapter.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// PaymentContext carries the routing hints for one session.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager picks a provider per session: the caller's preference, then the currency route, then
// the default, then the only registered provider.
type Manager struct {
	providers  map[string]Provider
	fallback   string
	byCurrency map[string]string
}

type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when neither preference nor currency decides.
// "" clears the default.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) { m.fallback = providerKey(name) }
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, name := range routes {
			m.byCurrency[strings.ToUpper(strings.TrimSpace(currency))] = providerKey(name)
		}
	}
}

func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	m := &Manager{
		providers:  make(map[string]Provider, len(providers)),
		byCurrency: map[string]string{},
	}
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		m.providers[key] = p
	}
	if _, ok := m.providers["stripe"]; ok {
		m.fallback = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m *Manager) pick(pc PaymentContext) (string, Provider, error) {
	candidates := []string{
		providerKey(pc.PreferredProvider),
		m.byCurrency[strings.ToUpper(strings.TrimSpace(pc.Currency))],
		m.fallback,
	}
	for _, name := range candidates {
		if p, ok := m.providers[name]; ok && name != "" {
			return name, p, nil
		}
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession validates req before any provider sees it and stamps the chosen
// provider's name on the result.
func (m *Manager) CreateCheckoutSession(ctx context.Context, pc PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	if m == nil {
		return CheckoutSession{}, errors.New("payments: nil manager")
	}
	if err := req.Validate(); err != nil {
		return CheckoutSession{}, err
	}
	name, provider, err := m.pick(pc)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = name
	return session, nil
}
