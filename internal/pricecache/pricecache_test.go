package pricecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/coalesce"
	"github.com/ebaysniper/sniper/internal/domain"
	"github.com/ebaysniper/sniper/internal/marketclient"
)

type fakeFetcher struct {
	calls   int32
	details *marketclient.ListingDetails
	err     error
}

func (f *fakeFetcher) GetDetails(ctx context.Context, listingID string) (*marketclient.ListingDetails, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.details, f.err
}

func TestShouldRefresh_DelegatesToDomain(t *testing.T) {
	a := &domain.Auction{Status: domain.StatusCancelled, EndTimeUTC: time.Now().Add(time.Hour)}
	if ShouldRefresh(a, time.Now()) {
		t.Fatalf("cancelled auctions should never refresh")
	}
}

func TestRefreshOne_AppliesFetchedDetails(t *testing.T) {
	f := &fakeFetcher{details: &marketclient.ListingDetails{
		CurrentPrice: decimal.RequireFromString("25.00"),
		Currency:     "USD",
	}}
	var applied *marketclient.ListingDetails
	c := New(f, coalesce.New(), nil, func(ctx context.Context, auctionID int64, details *marketclient.ListingDetails, refreshedAt time.Time) error {
		applied = details
		return nil
	})

	a := &domain.Auction{ID: 1, ListingID: "123"}
	if err := c.RefreshOne(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if applied == nil || !applied.CurrentPrice.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected apply to be called with fetched details, got %+v", applied)
	}
}

func TestRefreshOne_RateLimitedReturnsNilWithoutApplying(t *testing.T) {
	f := &fakeFetcher{err: &marketclient.UpstreamError{Op: "get_details", StatusCode: 429, Transient: true}}
	applyCalled := false
	c := New(f, coalesce.New(), nil, func(ctx context.Context, auctionID int64, details *marketclient.ListingDetails, refreshedAt time.Time) error {
		applyCalled = true
		return nil
	})

	a := &domain.Auction{ID: 1, ListingID: "123"}
	if err := c.RefreshOne(context.Background(), a); err != nil {
		t.Fatalf("expected rate-limited refresh to be swallowed, got %v", err)
	}
	if applyCalled {
		t.Fatalf("expected apply not to be called on rate limit")
	}
}

// peakFetcher records how many GetDetails calls overlap and which listings
// were fetched.
type peakFetcher struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	peak     int
	fetched  map[string]bool
}

func (f *peakFetcher) GetDetails(ctx context.Context, listingID string) (*marketclient.ListingDetails, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.fetched[listingID] = true
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return &marketclient.ListingDetails{CurrentPrice: decimal.RequireFromString("1.00"), Currency: "USD"}, nil
}

func TestRefreshBatch_BoundsConcurrencyAndSkipsFreshAuctions(t *testing.T) {
	f := &peakFetcher{fetched: map[string]bool{}}
	c := New(f, coalesce.New(), nil, func(ctx context.Context, auctionID int64, details *marketclient.ListingDetails, refreshedAt time.Time) error {
		return nil
	})

	now := time.Now()
	fresh := now.Add(-1 * time.Second)
	var auctions []*domain.Auction
	for i := 0; i < 10; i++ {
		auctions = append(auctions, &domain.Auction{ID: int64(i), ListingID: fmt.Sprintf("stale-%d", i), Status: domain.StatusScheduled, EndTimeUTC: now.Add(time.Hour)})
	}
	auctions = append(auctions, &domain.Auction{ID: 99, ListingID: "fresh", Status: domain.StatusScheduled, EndTimeUTC: now.Add(time.Hour), LastRefreshUTC: &fresh})

	c.RefreshBatch(context.Background(), auctions, now)

	if f.calls != 10 {
		t.Fatalf("expected one refresh per stale auction (10), got %d", f.calls)
	}
	if f.peak > MaxConcurrentRefreshes {
		t.Fatalf("expected at most %d refreshes in flight, saw %d", MaxConcurrentRefreshes, f.peak)
	}
	if f.fetched["fresh"] {
		t.Fatalf("expected the freshly refreshed auction to be skipped")
	}
}
