// Package idempotency makes POST /checkout/session safe to retry: a repeated Idempotency-Key with
// the same body replays the first response instead of creating a second payment session.
package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// Claim is the outcome of asking a Store for a key.
type Claim int

const (
	// ClaimAcquired: the caller owns the key and must Complete or Release it.
	ClaimAcquired Claim = iota
	// ClaimReplay: a stored response exists and should be sent back verbatim.
	ClaimReplay
	// ClaimInFlight: another request holds the key and has not finished.
	ClaimInFlight
)

// Response is a captured HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// entry is what a Store keeps per key.
type entry struct {
	Fingerprint string
	Done        bool
	Response    Response
	ExpiresAt   time.Time
}

// Store persists key claims. Expired entries count as absent; a backend may delete them lazily
// (the Firestore collection relies on a TTL policy on expiresAt).
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, Response, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrKeyReused means the key was first used with a different request body.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// judge decides how an existing entry answers a new claim. takeOver is true when the entry has
// expired and the caller should overwrite it with a fresh claim.
func judge(existing entry, fingerprint string, now time.Time) (claim Claim, takeOver bool, err error) {
	switch {
	case !existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt):
		return ClaimAcquired, true, nil
	case existing.Fingerprint != fingerprint:
		return 0, false, ErrKeyReused
	case existing.Done:
		return ClaimReplay, false, nil
	default:
		return ClaimInFlight, false, nil
	}
}

// replayableHeader drops headers that describe the original connection rather than the response.
func replayableHeader(h http.Header) http.Header {
	out := http.Header{}
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "X-Request-Id":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
