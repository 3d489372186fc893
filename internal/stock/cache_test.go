package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), srv
}

func TestCacheFetchOverviewPopulatesAndReuses(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]MaterialOverview, error) {
		calls++
		return []MaterialOverview{{MaterialID: 1, TotalQuantity: 12, MinQuantity: 20, LowStock: true}}, nil
	}

	first, err := cache.FetchOverview(ctx, loader)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, first[0].LowStock)

	second, err := cache.FetchOverview(ctx, loader)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]MaterialOverview, error) {
		calls++
		return []MaterialOverview{{MaterialID: 1, TotalQuantity: float64(calls)}}, nil
	}

	_, err := cache.FetchOverview(ctx, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))

	reloaded, err := cache.FetchOverview(ctx, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.InDelta(t, 2, reloaded[0].TotalQuantity, 0.0001)
}

func TestCacheNilFallsThroughToLoader(t *testing.T) {
	var cache *Cache
	want := errors.New("loader failed")
	_, err := cache.FetchOverview(context.Background(), func(context.Context) ([]MaterialOverview, error) {
		return nil, want
	})
	require.ErrorIs(t, err, want)
}
