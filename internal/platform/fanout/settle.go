// Package fanout runs independent lookups concurrently and keeps every outcome.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome records the result of one task keyed by its input.
type Outcome[K comparable, V any] struct {
	Key   K
	Value V
	Err   error
}

// OK reports whether the task succeeded.
func (o Outcome[K, V]) OK() bool {
	return o.Err == nil
}

// Settle invokes fn for every key with at most limit tasks in flight and waits for all of them.
// A failing task never cancels its siblings. Outcomes are returned in key order.
// Cancelling ctx is observed by fn itself; tasks not yet started receive the cancelled context.
func Settle[K comparable, V any](ctx context.Context, keys []K, limit int, fn func(context.Context, K) (V, error)) []Outcome[K, V] {
	outcomes := make([]Outcome[K, V], len(keys))
	if len(keys) == 0 {
		return outcomes
	}

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}

	for i, key := range keys {
		i, key := i, key
		group.Go(func() error {
			value, err := fn(ctx, key)
			if err == nil {
				err = ctx.Err()
			}
			outcomes[i] = Outcome[K, V]{Key: key, Value: value, Err: err}
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

// Fulfilled keeps the successful outcomes, preserving order.
func Fulfilled[K comparable, V any](outcomes []Outcome[K, V]) []Outcome[K, V] {
	kept := make([]Outcome[K, V], 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.OK() {
			kept = append(kept, outcome)
		}
	}
	return kept
}

// Rejected keeps the failed outcomes, preserving order.
func Rejected[K comparable, V any](outcomes []Outcome[K, V]) []Outcome[K, V] {
	kept := make([]Outcome[K, V], 0)
	for _, outcome := range outcomes {
		if !outcome.OK() {
			kept = append(kept, outcome)
		}
	}
	return kept
}

// Distinct returns keys with duplicates removed, keeping first occurrence order.
func Distinct[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
