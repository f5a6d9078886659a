package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *SummaryCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, time.Minute)
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)

	rows := []ValuationRow{
		{VariantID: 1, QtyOnHand: dec("10"), Value: dec("50")},
		{VariantID: 2, QtyOnHand: dec("3"), Value: dec("22.5")},
	}
	cache.Set(ctx, 1, rows)

	got, ok := cache.Get(ctx, 1)
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].VariantID)
	require.True(t, got[0].Value.Equal(dec("50")))
	require.True(t, got[1].QtyOnHand.Equal(dec("3")))
}

func TestSummaryCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, 1, []ValuationRow{{VariantID: 1, QtyOnHand: dec("1"), Value: dec("2")}})
	cache.Set(ctx, 2, []ValuationRow{{VariantID: 1, QtyOnHand: dec("1"), Value: dec("2")}})

	cache.Invalidate(ctx, 1)

	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)
	_, ok = cache.Get(ctx, 2)
	require.True(t, ok)
}

func TestSummaryCacheNilSafe(t *testing.T) {
	var cache *SummaryCache
	ctx := context.Background()

	cache.Set(ctx, 1, nil)
	cache.Invalidate(ctx, 1)
	_, ok := cache.Get(ctx, 1)
	require.False(t, ok)
}
