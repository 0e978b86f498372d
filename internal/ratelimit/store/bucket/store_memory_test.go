package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBucketStore_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(WithClock(func() time.Time { return now }))

	for i := range 3 {
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.RetryAfter)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)

	now = now.Add(time.Minute + time.Millisecond)
	res, err = store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "the window slides past old requests")
}

func TestInMemoryBucketStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := New()

	res, err := store.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = store.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	require.NoError(t, store.Reset(ctx, "a"))
	res, err = store.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestInMemoryBucketStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := New()
	const limit = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Allow(ctx, "shared", limit, time.Minute)
			if err != nil || !res.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, limit, allowed)
}
