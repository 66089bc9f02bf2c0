package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleKeepsSuccessesWhenSiblingsFail(t *testing.T) {
	boom := errors.New("boom")
	outcomes := Settle(context.Background(), []int{1, 2, 3, 4}, 2, func(_ context.Context, key int) (string, error) {
		if key%2 == 0 {
			return "", boom
		}
		return "ok", nil
	})

	require.Len(t, outcomes, 4)
	for i, key := range []int{1, 2, 3, 4} {
		assert.Equal(t, key, outcomes[i].Key)
	}

	fulfilled := Fulfilled(outcomes)
	require.Len(t, fulfilled, 2)
	assert.Equal(t, 1, fulfilled[0].Key)
	assert.Equal(t, 3, fulfilled[1].Key)

	rejected := Rejected(outcomes)
	require.Len(t, rejected, 2)
	assert.ErrorIs(t, rejected[0].Err, boom)
}

func TestSettleDoesNotCancelSiblings(t *testing.T) {
	var completed atomic.Int32
	outcomes := Settle(context.Background(), []int{1, 2, 3}, 0, func(ctx context.Context, key int) (int, error) {
		if key == 1 {
			return 0, errors.New("fast failure")
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		completed.Add(1)
		return key * 10, nil
	})

	assert.Equal(t, int32(2), completed.Load())
	assert.Len(t, Fulfilled(outcomes), 2)
}

func TestSettleRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	Settle(context.Background(), []int{1, 2, 3, 4, 5, 6}, 2, func(context.Context, int) (struct{}, error) {
		current := inFlight.Add(1)
		for {
			prev := peak.Load()
			if current <= prev || peak.CompareAndSwap(prev, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSettleMarksCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := Settle(ctx, []string{"a"}, 1, func(context.Context, string) (int, error) {
		return 1, nil
	})

	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
	assert.Empty(t, Fulfilled(outcomes))
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, Distinct([]int64{3, 1, 3, 2, 1}))
	assert.Empty(t, Distinct[int64](nil))
}
