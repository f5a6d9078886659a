package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SummaryCache caches read-only location valuation summaries in redis.
// Postings invalidate by location; the mutating path never reads cached
// quantities or layers.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache constructs the cache.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(locationID int64) string {
	return fmt.Sprintf("valuation:summary:%d", locationID)
}

// Get returns the cached rows for a location, if present.
func (c *SummaryCache) Get(ctx context.Context, locationID int64) ([]ValuationRow, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, summaryKey(locationID)).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []ValuationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// Set stores rows for a location. Failures are ignored; the cache is
// best effort.
func (c *SummaryCache) Set(ctx context.Context, locationID int64, rows []ValuationRow) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, summaryKey(locationID), data, c.ttl).Err()
}

// Invalidate drops cached summaries for the given locations.
func (c *SummaryCache) Invalidate(ctx context.Context, locationIDs ...int64) {
	if c == nil || c.client == nil || len(locationIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(locationIDs))
	for _, id := range locationIDs {
		keys = append(keys, summaryKey(id))
	}
	_ = c.client.Del(ctx, keys...).Err()
}
