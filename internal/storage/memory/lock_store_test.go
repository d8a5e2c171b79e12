package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTryAcquireMutualExclusion(t *testing.T) {
	t.Parallel()

	store := NewLockStore(&fakeClock{now: time.Now()})
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	won := make(chan string, contenders)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		holder := fmt.Sprintf("holder-%d", i)
		go func() {
			defer wg.Done()
			<-start
			if _, acquired, err := store.TryAcquire(ctx, "ingestion_run", holder, time.Minute); err == nil && acquired {
				won <- holder
			}
		}()
	}
	close(start)
	wg.Wait()
	close(won)

	count := 0
	for range won {
		count++
	}
	require.Equal(t, 1, count, "exactly one contender must acquire the lock")
}

func TestTryAcquireDeniedWhileHeld(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	store := NewLockStore(clock)
	ctx := context.Background()

	_, acquired, err := store.TryAcquire(ctx, "ingestion_run", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = store.TryAcquire(ctx, "ingestion_run", "second", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)
}

func TestTryAcquireStealsExpiredLock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	store := NewLockStore(clock)
	ctx := context.Background()

	_, acquired, err := store.TryAcquire(ctx, "ingestion_run", "original", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	clock.Advance(2 * time.Minute)

	const stealers = 8
	var wg sync.WaitGroup
	won := make(chan string, stealers)
	start := make(chan struct{})
	for i := 0; i < stealers; i++ {
		wg.Add(1)
		holder := fmt.Sprintf("stealer-%d", i)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, err := store.TryAcquire(ctx, "ingestion_run", holder, time.Minute); err == nil && ok {
				won <- holder
			}
		}()
	}
	close(start)
	wg.Wait()
	close(won)

	count := 0
	var winner string
	for h := range won {
		count++
		winner = h
	}
	require.Equal(t, 1, count, "exactly one stealer must win an expired lock")

	holder, held := store.Holder("ingestion_run")
	require.True(t, held)
	require.Equal(t, winner, holder)
}

func TestReleaseIsIdempotentAndOwnerScoped(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	store := NewLockStore(clock)
	ctx := context.Background()

	_, acquired, err := store.TryAcquire(ctx, "ingestion_run", "owner", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A stale holder releasing someone else's lock is a no-op.
	require.NoError(t, store.Release(ctx, "ingestion_run", "stranger"))
	_, held := store.Holder("ingestion_run")
	require.True(t, held)

	require.NoError(t, store.Release(ctx, "ingestion_run", "owner"))
	_, held = store.Holder("ingestion_run")
	require.False(t, held)

	// Double release is fine.
	require.NoError(t, store.Release(ctx, "ingestion_run", "owner"))

	// Lock is acquirable again after release.
	_, acquired, err = store.TryAcquire(ctx, "ingestion_run", "next", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}
