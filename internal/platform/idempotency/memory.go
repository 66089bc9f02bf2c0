package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Claim scans for expired entries.
const sweepInterval = time.Minute

// MemoryStore keeps claims in process memory. It suits tests and single-instance deployments
// without Firestore. Expired entries are swept during Claim at most once per sweepInterval.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]entry
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]entry{}}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepInterval {
		s.removeExpired(now, 0)
		s.lastSweep = now
	}

	fresh := entry{Fingerprint: fingerprint, ExpiresAt: now.Add(ttlOrDefault(ttl))}
	existing, ok := s.entries[key]
	if !ok {
		s.entries[key] = fresh
		return ClaimAcquired, Response{}, nil
	}
	claim, takeOver, err := judge(existing, fingerprint, now)
	if err != nil {
		return 0, Response{}, err
	}
	if takeOver {
		s.entries[key] = fresh
	}
	return claim, existing.Response, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	s.entries[key] = entry{
		Fingerprint: fingerprint,
		Done:        true,
		Response: Response{
			Status: resp.Status,
			Header: replayableHeader(resp.Header),
			Body:   append([]byte(nil), resp.Body...),
		},
		ExpiresAt: now.Add(ttlOrDefault(ttl)),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// CleanupExpired drops up to limit entries whose TTL has passed; limit <= 0 means all of them.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeExpired(now, limit), nil
}

func (s *MemoryStore) removeExpired(now time.Time, limit int) int {
	removed := 0
	for key, e := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if now.Before(e.ExpiresAt) {
			continue
		}
		delete(s.entries, key)
		removed++
	}
	return removed
}
