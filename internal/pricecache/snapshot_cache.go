package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// PriceSnapshot is a point-in-time view of a listing's current price, the
// unit this cache stores in Redis. Adapted from the teacher's
// WaterfallConfig/WaterfallTier Get/Set-JSON-over-Redis shape, repurposed
// from an ad-waterfall's adapter priority list to a single listing's price.
type PriceSnapshot struct {
	ListingID      string          `json:"listing_id"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	Currency       string          `json:"currency"`
	LastRefreshUTC time.Time       `json:"last_refresh_utc"`
}

// SnapshotCache is an optional write-through Redis cache for price
// snapshots. Cache writes every successful refresh through to it; no code
// path in this service reads snapshots back. Nil-safe: a nil *redis.Client
// degrades every call to a cache miss so SnapshotCache can be wired
// conditionally per SPEC_FULL's optional Redis deployment.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSnapshotCache creates a cache backed by redisClient. ttl <= 0 defaults
// to 60s, matching the PriceCache refresh-on-read window.
func NewSnapshotCache(redisClient *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &SnapshotCache{redis: redisClient, ttl: ttl}
}

func snapshotKey(listingID string) string {
	return fmt.Sprintf("price_snapshot:%s", listingID)
}

// Get returns the cached snapshot, or ok=false on a miss, a disabled cache,
// or any Redis error (treated as a miss so callers fall through to a live
// refresh rather than failing the request).
func (c *SnapshotCache) Get(ctx context.Context, listingID string) (snap PriceSnapshot, ok bool) {
	if c == nil || c.redis == nil {
		return PriceSnapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotKey(listingID)).Bytes()
	if err == redis.Nil {
		return PriceSnapshot{}, false
	}
	if err != nil {
		log.WithError(err).WithField("listing_id", listingID).Warn("snapshot cache read failed")
		return PriceSnapshot{}, false
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		log.WithError(err).WithField("listing_id", listingID).Warn("snapshot cache decode failed")
		return PriceSnapshot{}, false
	}
	return snap, true
}

// Set writes the snapshot through to Redis with the cache's TTL. A write
// failure is logged and swallowed — the cache is an optimization, not a
// source of truth (Store remains authoritative).
func (c *SnapshotCache) Set(ctx context.Context, snap PriceSnapshot) {
	if c == nil || c.redis == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.WithError(err).Warn("snapshot cache encode failed")
		return
	}
	if err := c.redis.Set(ctx, snapshotKey(snap.ListingID), data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("listing_id", snap.ListingID).Warn("snapshot cache write failed")
	}
}

// Invalidate drops a listing's cached snapshot so the next Get misses.
func (c *SnapshotCache) Invalidate(ctx context.Context, listingID string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, snapshotKey(listingID)).Err(); err != nil {
		log.WithError(err).WithField("listing_id", listingID).Warn("snapshot cache invalidate failed")
	}
}
