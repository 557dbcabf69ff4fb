package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChallengeStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()

	require.NoError(t, store.Put(ctx, "k1", "AB12", time.Minute))

	answer, err := store.Consume(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "AB12", answer)

	_, err = store.Consume(ctx, "k1")
	assert.True(t, errors.Is(err, auth.ErrChallengeNotFound))
}

func TestMemoryChallengeStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()

	require.NoError(t, store.Put(ctx, "k1", "OLD1", time.Minute))
	require.NoError(t, store.Put(ctx, "k1", "NEW2", time.Minute))

	answer, err := store.Consume(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "NEW2", answer)
}

func TestMemoryChallengeStore_ExpiredEntry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := auth.NewMemoryChallengeStore().WithClock(clock.Now)

	require.NoError(t, store.Put(ctx, "k1", "AB12", 5*time.Minute))
	clock.Advance(5 * time.Minute)

	_, err := store.Consume(ctx, "k1")
	assert.True(t, errors.Is(err, auth.ErrChallengeNotFound))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryChallengeStore_Purge(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := auth.NewMemoryChallengeStore().WithClock(clock.Now)

	require.NoError(t, store.Put(ctx, "short", "A", time.Minute))
	require.NoError(t, store.Put(ctx, "long", "B", time.Hour))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, store.Purge())
	assert.Equal(t, 1, store.Len())

	answer, err := store.Consume(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, "B", answer)
}

func TestMemoryChallengeStore_ConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()
	require.NoError(t, store.Put(ctx, "race", "AB12", time.Minute))

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "race"); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}
