package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/podshop/api/internal/domain"
	pfirestore "github.com/podshop/api/internal/platform/firestore"
	"github.com/podshop/api/internal/repositories"
)

const checkoutSessionsCollection = "checkout_sessions"

// CheckoutLedger appends created payment sessions to the checkout_sessions collection.
type CheckoutLedger struct {
	sessions *pfirestore.Collection[checkoutSessionDocument]
}

var _ repositories.CheckoutLedger = (*CheckoutLedger)(nil)

func NewCheckoutLedger(provider *pfirestore.Provider) (*CheckoutLedger, error) {
	if provider == nil {
		return nil, errors.New("checkout ledger requires firestore provider")
	}
	sessions, err := pfirestore.NewCollection[checkoutSessionDocument](provider, checkoutSessionsCollection)
	if err != nil {
		return nil, err
	}
	return &CheckoutLedger{sessions: sessions}, nil
}

// RecordSession stores the record keyed by session ID. A second write for the same session is ignored.
func (l *CheckoutLedger) RecordSession(ctx context.Context, record domain.CheckoutSessionRecord) error {
	if l == nil || l.sessions == nil {
		return errors.New("checkout ledger not initialised")
	}
	sessionID := strings.TrimSpace(record.SessionID)
	if sessionID == "" {
		return errors.New("checkout ledger: session id is required")
	}

	if err := l.sessions.Create(ctx, sessionID, encodeCheckoutSession(record)); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return nil
		}
		return err
	}
	return nil
}

// FindSession loads a previously recorded session.
func (l *CheckoutLedger) FindSession(ctx context.Context, sessionID string) (domain.CheckoutSessionRecord, error) {
	if l == nil || l.sessions == nil {
		return domain.CheckoutSessionRecord{}, errors.New("checkout ledger not initialised")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return domain.CheckoutSessionRecord{}, errors.New("checkout ledger: session id is required")
	}
	doc, err := l.sessions.Get(ctx, id)
	if err != nil {
		return domain.CheckoutSessionRecord{}, err
	}
	record, err := decodeCheckoutSession(doc.ID, doc.Data)
	if err != nil {
		return domain.CheckoutSessionRecord{}, fmt.Errorf("checkout ledger: decode %s: %w", id, err)
	}
	return record, nil
}

type checkoutSessionDocument struct {
	AttemptID   string                        `firestore:"attemptId"`
	Provider    string                        `firestore:"provider"`
	Currency    string                        `firestore:"currency"`
	VATFactor   string                        `firestore:"vatFactor"`
	AmountTotal int64                         `firestore:"amountTotal"`
	Lines       []checkoutSessionLineDocument `firestore:"lines"`
	Address     checkoutAddressDocument       `firestore:"address"`
	ExpiresAt   *time.Time                    `firestore:"expiresAt,omitempty"`
	CreatedAt   time.Time                     `firestore:"createdAt"`
}

type checkoutSessionLineDocument struct {
	CatalogVariantID int64  `firestore:"catalogVariantId"`
	BaseVariantID    int64  `firestore:"baseVariantId"`
	SKU              string `firestore:"sku,omitempty"`
	Name             string `firestore:"name"`
	Quantity         int    `firestore:"quantity"`
	UnitAmount       int64  `firestore:"unitAmount"`
}

type checkoutAddressDocument struct {
	Line1           string `firestore:"line1"`
	Line2           string `firestore:"line2,omitempty"`
	City            string `firestore:"city"`
	PostalOrZip     string `firestore:"postalOrZip"`
	Country         string `firestore:"country"`
	ProvinceOrState string `firestore:"provinceOrState,omitempty"`
	Status          string `firestore:"status"`
}

func encodeCheckoutSession(record domain.CheckoutSessionRecord) checkoutSessionDocument {
	doc := checkoutSessionDocument{
		AttemptID:   strings.TrimSpace(record.AttemptID),
		Provider:    strings.TrimSpace(record.Provider),
		Currency:    strings.ToUpper(strings.TrimSpace(record.Currency)),
		VATFactor:   record.VATFactor.String(),
		AmountTotal: record.AmountTotal,
		Lines:       make([]checkoutSessionLineDocument, 0, len(record.Lines)),
		Address: checkoutAddressDocument{
			Line1:           record.Address.Line1,
			Line2:           record.Address.Line2,
			City:            record.Address.City,
			PostalOrZip:     record.Address.PostalOrZip,
			Country:         record.Address.Country,
			ProvinceOrState: record.Address.ProvinceOrState,
			Status:          string(record.Address.Status),
		},
		CreatedAt: record.CreatedAt.UTC(),
	}
	if !record.ExpiresAt.IsZero() {
		expires := record.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}
	for _, line := range record.Lines {
		doc.Lines = append(doc.Lines, checkoutSessionLineDocument{
			CatalogVariantID: line.CatalogVariantID,
			BaseVariantID:    line.BaseVariantID,
			SKU:              line.SKU,
			Name:             line.Name,
			Quantity:         line.Quantity,
			UnitAmount:       line.UnitAmount,
		})
	}
	return doc
}

func decodeCheckoutSession(id string, doc checkoutSessionDocument) (domain.CheckoutSessionRecord, error) {
	vat, err := decimal.NewFromString(doc.VATFactor)
	if err != nil {
		return domain.CheckoutSessionRecord{}, fmt.Errorf("vat factor %q: %w", doc.VATFactor, err)
	}
	record := domain.CheckoutSessionRecord{
		SessionID:   id,
		AttemptID:   doc.AttemptID,
		Provider:    doc.Provider,
		Currency:    doc.Currency,
		VATFactor:   vat,
		AmountTotal: doc.AmountTotal,
		Lines:       make([]domain.CheckoutSessionRecordLine, 0, len(doc.Lines)),
		Address: domain.NormalizedAddress{
			Line1:           doc.Address.Line1,
			Line2:           doc.Address.Line2,
			City:            doc.Address.City,
			PostalOrZip:     doc.Address.PostalOrZip,
			Country:         doc.Address.Country,
			ProvinceOrState: doc.Address.ProvinceOrState,
			Status:          domain.VerificationStatus(doc.Address.Status),
		},
		CreatedAt: doc.CreatedAt.UTC(),
	}
	if doc.ExpiresAt != nil {
		record.ExpiresAt = doc.ExpiresAt.UTC()
	}
	for _, line := range doc.Lines {
		record.Lines = append(record.Lines, domain.CheckoutSessionRecordLine{
			CatalogVariantID: line.CatalogVariantID,
			BaseVariantID:    line.BaseVariantID,
			SKU:              line.SKU,
			Name:             line.Name,
			Quantity:         line.Quantity,
			UnitAmount:       line.UnitAmount,
		})
	}
	return record, nil
}
