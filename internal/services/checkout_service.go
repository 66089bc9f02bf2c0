package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/podshop/api/internal/domain"
	"github.com/podshop/api/internal/payments"
	"github.com/podshop/api/internal/platform/money"
	"github.com/podshop/api/internal/platform/observability"
	"github.com/podshop/api/internal/repositories"
)

// MetadataIdempotencyKey is the metadata entry accepted as a caller idempotency key.
const MetadataIdempotencyKey = "idempotencyKey"

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutEventPublisher announces created checkout sessions to downstream consumers.
type CheckoutEventPublisher interface {
	PublishCheckoutSessionCreated(ctx context.Context, message CheckoutSessionCreatedMessage) (string, error)
}

// CheckoutSessionCreatedMessage is the payload published once a payment session exists.
type CheckoutSessionCreatedMessage struct {
	AttemptID      string    `json:"attemptId"`
	SessionID      string    `json:"sessionId"`
	Provider       string    `json:"provider"`
	Currency       string    `json:"currency"`
	AmountTotal    int64     `json:"amountTotal"`
	VATFactor      string    `json:"vatFactor"`
	Country        string    `json:"country"`
	LineCount      int       `json:"lineCount"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Pipeline CartValidator
	Builder  *CheckoutSessionBuilder
	Payments checkoutSessionManager
	Ledger   repositories.CheckoutLedger
	Events   CheckoutEventPublisher
	Clock    func() time.Time
	IDGen    func() string
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Metrics  *observability.CheckoutMetrics
}

type checkoutService struct {
	pipeline CartValidator
	builder  *CheckoutSessionBuilder
	payments checkoutSessionManager
	ledger   repositories.CheckoutLedger
	events   CheckoutEventPublisher
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
	metrics  *observability.CheckoutMetrics
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("checkout service: cart validation pipeline is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("checkout service: session builder is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGen
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		pipeline: deps.Pipeline,
		builder:  deps.Builder,
		payments: deps.Payments,
		ledger:   deps.Ledger,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:   newID,
		logger:  logger,
		metrics: deps.Metrics,
	}, nil
}

// ValidateCart runs the pipeline without creating a payment session.
func (s *checkoutService) ValidateCart(ctx context.Context, cmd CartValidationCommand) (CartValidationResult, error) {
	if s == nil || s.pipeline == nil {
		return CartValidationResult{}, ErrCheckoutUnavailable
	}
	return s.pipeline.Validate(ctx, cmd)
}

// CreateCheckoutSession re-validates the cart against live upstream data and opens a payment session.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	if s == nil || s.pipeline == nil || s.payments == nil {
		return CheckoutSessionResult{}, ErrCheckoutUnavailable
	}

	result, err := s.pipeline.Validate(ctx, cmd.Cart)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	attemptID := s.newID()
	req, err := s.builder.Build(result)
	if err != nil {
		s.metrics.RecordOutcome(ctx, string(StageSession), "error")
		s.logger(ctx, "checkout.session_build_failed", map[string]any{
			"attemptId": attemptID,
			"error":     err.Error(),
		})
		return CheckoutSessionResult{}, stageError(StageSession, ErrSessionCreationFailed, err)
	}

	req.Locale = strings.TrimSpace(cmd.Locale)
	req.Metadata = buildPaymentMetadata(cmd.Metadata, result)
	idempotencyKey := providerIdempotencyKey(callerIdempotencyKey(cmd), attemptID, req, result.Address)
	req.IdempotencyKey = idempotencyKey

	paymentCtx := payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(cmd.PSP),
		Currency:          req.Currency,
	}
	session, err := s.payments.CreateCheckoutSession(ctx, paymentCtx, req)
	if err != nil {
		s.metrics.RecordOutcome(ctx, string(StageSession), "error")
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"attemptId": attemptID,
			"provider":  paymentCtx.PreferredProvider,
			"currency":  req.Currency,
			"error":     err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSessionResult{}, stageError(StageSession, ErrInvalidPayload, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CheckoutSessionResult{}, stageError(StageSession, ErrCheckoutUnavailable, ctxErr)
		}
		return CheckoutSessionResult{}, stageError(StageSession, ErrSessionCreationFailed, err)
	}
	s.metrics.RecordOutcome(ctx, string(StageSession), "ok")

	amountTotal := session.AmountTotal
	if amountTotal <= 0 {
		amountTotal = req.AmountTotal()
	}
	expiresAt := session.ExpiresAt.UTC()

	s.recordSession(ctx, result, session, attemptID, amountTotal, expiresAt)
	s.publishCreated(ctx, result, session, attemptID, idempotencyKey, amountTotal)

	s.logger(ctx, "checkout.session_created", map[string]any{
		"attemptId": attemptID,
		"sessionId": session.ID,
		"provider":  session.Provider,
		"currency":  req.Currency,
		"amount":    amountTotal,
	})

	return CheckoutSessionResult{
		AttemptID:       attemptID,
		SessionID:       session.ID,
		Provider:        session.Provider,
		RedirectURL:     session.RedirectURL,
		ExpiresAt:       expiresAt,
		Currency:        req.Currency,
		AmountTotal:     amountTotal,
		VATFactor:       result.VATFactor,
		Lines:           result.Lines,
		Dropped:         result.Dropped,
		ShippingOptions: result.ShippingOptions,
	}, nil
}

// recordSession appends the session to the ledger. The session already exists so failures are logged only.
func (s *checkoutService) recordSession(ctx context.Context, result CartValidationResult, session payments.CheckoutSession, attemptID string, amountTotal int64, expiresAt time.Time) {
	if s.ledger == nil {
		return
	}
	record := domain.CheckoutSessionRecord{
		SessionID:   session.ID,
		AttemptID:   attemptID,
		Provider:    session.Provider,
		Currency:    strings.ToUpper(result.Currency),
		VATFactor:   result.VATFactor,
		AmountTotal: amountTotal,
		Address:     result.Address,
		ExpiresAt:   expiresAt,
		CreatedAt:   s.now(),
	}
	for _, line := range result.Lines {
		if !line.InStock {
			continue
		}
		unit, _ := lineUnitAmount(line, record.Currency)
		record.Lines = append(record.Lines, domain.CheckoutSessionRecordLine{
			CatalogVariantID: line.Variant.ID,
			BaseVariantID:    line.Variant.BaseVariantID,
			SKU:              line.Variant.SKU,
			Name:             line.Variant.Name,
			Quantity:         line.Quantity,
			UnitAmount:       unit,
		})
	}
	if err := s.ledger.RecordSession(ctx, record); err != nil {
		s.logger(ctx, "checkout.ledger_record_failed", map[string]any{
			"attemptId": attemptID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) publishCreated(ctx context.Context, result CartValidationResult, session payments.CheckoutSession, attemptID, idempotencyKey string, amountTotal int64) {
	if s.events == nil {
		return
	}
	message := CheckoutSessionCreatedMessage{
		AttemptID:      attemptID,
		SessionID:      session.ID,
		Provider:       session.Provider,
		Currency:       strings.ToUpper(result.Currency),
		AmountTotal:    amountTotal,
		VATFactor:      result.VATFactor.String(),
		Country:        result.Address.Country,
		LineCount:      len(result.Lines),
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.now(),
	}
	if _, err := s.events.PublishCheckoutSessionCreated(ctx, message); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"attemptId": attemptID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	}
}

// callerIdempotencyKey returns the caller's key, which HTTP callers have already scoped to the client.
func callerIdempotencyKey(cmd CreateCheckoutSessionCommand) string {
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		return key
	}
	return metadataValue(cmd.Metadata, MetadataIdempotencyKey)
}

// providerIdempotencyKey derives the key sent to the payment provider. Without a caller key every
// attempt opens its own session. With one, the key also covers everything sent to the provider and
// the buyer address, so a retried attempt reuses its session and a repriced or re-addressed cart
// under the same caller key gets a new one instead of a provider conflict.
func providerIdempotencyKey(callerKey, attemptID string, req payments.CheckoutSessionRequest, address domain.NormalizedAddress) string {
	if callerKey == "" {
		return "checkout-" + attemptID
	}

	parts := make([]string, 0, len(req.Items)+len(req.ShippingOptions)+len(req.Metadata)+2)
	for _, item := range req.Items {
		parts = append(parts, fmt.Sprintf("i:%s:%s:%d:%d", item.SKU, item.Name, item.Quantity, item.UnitAmount))
	}
	for _, option := range req.ShippingOptions {
		parts = append(parts, fmt.Sprintf("s:%s:%s:%d:%d-%d", option.ID, option.DisplayName, option.Amount, option.MinDeliveryDays, option.MaxDeliveryDays))
	}
	for k, v := range req.Metadata {
		parts = append(parts, "m:"+k+"="+v)
	}
	if req.TaxRate != nil {
		parts = append(parts, "t:"+req.TaxRate.Percentage.String())
	}
	sort.Strings(parts)

	head := []string{
		callerKey,
		req.Currency,
		req.Locale,
		req.SuccessURL,
		req.CancelURL,
		strings.Join(req.AllowedCountries, ","),
		address.Line1, address.Line2, address.City, address.PostalOrZip, address.ProvinceOrState, address.Country,
	}
	sum := sha256.Sum256([]byte(strings.Join(append(head, parts...), "|")))
	return "checkout-" + hex.EncodeToString(sum[:])
}

// buildPaymentMetadata only carries values derived from the validated cart, so a retried attempt
// sends the provider identical parameters.
func buildPaymentMetadata(cmdMeta map[string]string, result CartValidationResult) map[string]string {
	meta := make(map[string]string, len(cmdMeta)+2)
	for k, v := range cmdMeta {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" || k == MetadataIdempotencyKey {
			continue
		}
		meta[k] = v
	}
	meta["vat_factor"] = result.VATFactor.String()
	if result.Address.Country != "" {
		meta["ship_country"] = result.Address.Country
	}
	return meta
}

func lineUnitAmount(line domain.PricedLineItem, currency string) (int64, error) {
	return money.ToMinorUnits(line.Variant.RetailPrice, currency)
}

func metadataValue(meta map[string]string, key string) string {
	if len(meta) == 0 {
		return ""
	}
	return strings.TrimSpace(meta[key])
}
