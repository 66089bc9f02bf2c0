package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/podshop/api/internal/platform/firestore"
)

const idempotencyCollection = "checkout_idempotency_keys"

// FirestoreStore shares claims across API instances through a Firestore collection. Document ids
// are SHA-256 hashes of the scoped key since raw keys may contain '/'.
type FirestoreStore struct {
	provider *pfirestore.Provider
	keys     *pfirestore.Collection[keyDocument]
	attempts int
}

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*firestoreSettings)

type firestoreSettings struct {
	collection string
	attempts   int
}

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *firestoreSettings) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries under contention.
func WithMaxAttempts(n int) FirestoreOption {
	return func(s *firestoreSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	settings := firestoreSettings{collection: idempotencyCollection, attempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	keys, err := pfirestore.NewCollection[keyDocument](provider, settings.collection)
	if err != nil {
		return nil, err
	}
	return &FirestoreStore{provider: provider, keys: keys, attempts: settings.attempts}, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, Response, error) {
	ref, err := s.keys.Ref(ctx, docID(key))
	if err != nil {
		return 0, Response{}, err
	}
	fresh := keyDocument{Fingerprint: fingerprint, ExpiresAt: now.Add(ttlOrDefault(ttl)).UTC(), UpdatedAt: now.UTC()}

	var (
		claim Claim
		resp  Response
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			claim = ClaimAcquired
			return tx.Set(ref, fresh)
		}
		if err != nil {
			return err
		}
		var doc keyDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		existing := doc.entry()
		var takeOver bool
		claim, takeOver, err = judge(existing, fingerprint, now)
		if err != nil {
			return err
		}
		resp = existing.Response
		if takeOver {
			return tx.Set(ref, fresh)
		}
		return nil
	}, pfirestore.WithTxAttempts(s.attempts))
	if errors.Is(err, ErrKeyReused) {
		return 0, Response{}, ErrKeyReused
	}
	return claim, resp, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.keys.Ref(ctx, docID(key))
	if err != nil {
		return err
	}
	done := keyDocument{
		Fingerprint: fingerprint,
		Done:        true,
		Status:      resp.Status,
		Header:      replayableHeader(resp.Header),
		Body:        resp.Body,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)).UTC(),
		UpdatedAt:   now.UTC(),
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrKeyReused
			}
		}
		return tx.Set(ref, done)
	}, pfirestore.WithTxAttempts(s.attempts))
	if errors.Is(err, ErrKeyReused) {
		return ErrKeyReused
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.keys.Ref(ctx, docID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError(s.keys.Name()+".release", err)
	}
	return nil
}

func docID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type keyDocument struct {
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

func (d keyDocument) entry() entry {
	return entry{
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		Response:    Response{Status: d.Status, Header: d.Header, Body: d.Body},
		ExpiresAt:   d.ExpiresAt,
	}
}
