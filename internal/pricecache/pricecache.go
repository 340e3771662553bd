// Package pricecache implements the refresh-on-read policy that keeps an
// auction's current price reasonably fresh without hammering eBay on every
// read. Grounded on _examples/original_source/server/api.py's
// _should_refresh_price/_refresh_auction_price and its bounded
// ThreadPoolExecutor list-refresh fan-out.
package pricecache

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ebaysniper/sniper/internal/coalesce"
	"github.com/ebaysniper/sniper/internal/domain"
	"github.com/ebaysniper/sniper/internal/marketclient"
)

// RefreshTTL is how long a refreshed price is considered fresh before the
// next read triggers another live fetch (spec §4.2).
const RefreshTTL = 60 * time.Second

// MaxConcurrentRefreshes bounds the fan-out used when refreshing a whole
// listing page at once, mirroring the original's ThreadPoolExecutor(max_workers=5).
const MaxConcurrentRefreshes = 5

// Fetcher retrieves live listing details, implemented by marketclient.Client.
type Fetcher interface {
	GetDetails(ctx context.Context, listingID string) (*marketclient.ListingDetails, error)
}

// ApplyFunc persists a successful refresh onto the auction record, supplied
// by the caller (the Store layer) so pricecache stays storage-agnostic.
type ApplyFunc func(ctx context.Context, auctionID int64, details *marketclient.ListingDetails, refreshedAt time.Time) error

// Cache coordinates refresh-on-read with request coalescing, an optional
// Redis snapshot tier, and a bounded worker pool for bulk refreshes.
type Cache struct {
	fetcher   Fetcher
	coalescer *coalesce.Coalescer
	snapshots *SnapshotCache
	apply     ApplyFunc
	clock     func() time.Time
}

// New builds a Cache. snapshots may be nil to disable the optional Redis tier.
func New(fetcher Fetcher, coalescer *coalesce.Coalescer, snapshots *SnapshotCache, apply ApplyFunc) *Cache {
	return &Cache{
		fetcher:   fetcher,
		coalescer: coalescer,
		snapshots: snapshots,
		apply:     apply,
		clock:     time.Now,
	}
}

// ShouldRefresh reports whether auction's price is stale enough to refresh
// on this read, ported from _should_refresh_price. Terminal statuses other
// than BidPlaced never refresh; BidPlaced stops refreshing once the listing
// has actually ended (reconciliation takes over from there).
func ShouldRefresh(a *domain.Auction, now time.Time) bool {
	return domain.NeedsRefresh(a, now)
}

// RefreshOne refreshes a single auction's price, single-flighted per
// listing ID. On a rate-limited (429) response it returns the cached price
// unchanged and does NOT advance LastRefreshUTC, so the next read retries —
// the "stale-while-rate-limited" behavior from the original's
// _refresh_auction_price.
func (c *Cache) RefreshOne(ctx context.Context, a *domain.Auction) error {
	v, err := c.coalescer.GetOrExecute(a.ListingID, func() (any, error) {
		return c.fetcher.GetDetails(ctx, a.ListingID)
	})
	if err != nil {
		if isRateLimited(err) {
			log.WithField("listing_id", a.ListingID).Warn("rate limited refreshing price, serving cached value")
			return nil
		}
		return err
	}
	c.coalescer.Clear(a.ListingID)

	details, ok := v.(*marketclient.ListingDetails)
	if !ok || details == nil {
		return nil
	}
	refreshedAt := c.clock()
	if err := c.apply(ctx, a.ID, details, refreshedAt); err != nil {
		return err
	}
	if c.snapshots != nil {
		c.snapshots.Set(ctx, PriceSnapshot{
			ListingID:      a.ListingID,
			CurrentPrice:   details.CurrentPrice,
			Currency:       details.Currency,
			LastRefreshUTC: refreshedAt,
		})
	}
	return nil
}

// isRateLimited detects the MarketClient 429 signal through a narrow
// interface rather than a type assertion on *marketclient.UpstreamError, so
// it also works when the error arrives wrapped in a *coalesce.ProducerError.
func isRateLimited(err error) bool {
	type rateLimited interface{ IsRateLimited() bool }
	if rl, ok := err.(rateLimited); ok {
		return rl.IsRateLimited()
	}
	if pe, ok := err.(*coalesce.ProducerError); ok {
		if rl, ok := pe.Err.(rateLimited); ok {
			return rl.IsRateLimited()
		}
	}
	return false
}

// RefreshBatch refreshes every auction in auctions that ShouldRefresh,
// bounded to MaxConcurrentRefreshes in flight at once — the direct
// translation of the original's ThreadPoolExecutor(max_workers=5) fan-out,
// adapted to the teacher's goroutine+channel worker-pool idiom.
func (c *Cache) RefreshBatch(ctx context.Context, auctions []*domain.Auction, now time.Time) {
	var stale []*domain.Auction
	for _, a := range auctions {
		if ShouldRefresh(a, now) {
			stale = append(stale, a)
		}
	}
	if len(stale) == 0 {
		return
	}

	sem := make(chan struct{}, MaxConcurrentRefreshes)
	var wg sync.WaitGroup
	for _, a := range stale {
		a := a
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.RefreshOne(ctx, a); err != nil {
				log.WithError(err).WithField("auction_id", a.ID).Warn("failed to refresh price in batch")
			}
		}()
	}
	wg.Wait()
}
