package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/domain"
	"github.com/ebaysniper/sniper/internal/marketclient"
	"github.com/ebaysniper/sniper/internal/store"
)

type fakeMarket struct {
	details   *marketclient.ListingDetails
	detailsErr error
	bidErr    error
	bidCalls  int
}

func (f *fakeMarket) GetDetails(ctx context.Context, listingID string) (*marketclient.ListingDetails, error) {
	return f.details, f.detailsErr
}

func (f *fakeMarket) PlaceBid(ctx context.Context, listingID string, amount decimal.Decimal) error {
	f.bidCalls++
	return f.bidErr
}

func newScheduledAuction(st *store.MemStore, endTime time.Time, maxBid decimal.Decimal) int64 {
	id, _ := st.Create(context.Background(), &domain.Auction{
		ListingID:    "123",
		ListingURL:   "https://ebay.com/itm/123",
		ItemTitle:    "Widget",
		CurrentPrice: decimal.RequireFromString("5.00"),
		Currency:     "USD",
		MaxBid:       maxBid,
		EndTimeUTC:   endTime,
	})
	return id
}

func TestExecuteBid_SuccessRecordsBidPlaced(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now()
	id := newScheduledAuction(st, now.Add(bidOffset), decimal.RequireFromString("50.00"))

	market := &fakeMarket{}
	s := New(st, market, nil)
	s.clock = func() time.Time { return now }

	a, _ := st.Get(context.Background(), id)
	s.executeBid(context.Background(), a)

	got, _ := st.Get(context.Background(), id)
	if got.Status != domain.StatusBidPlaced {
		t.Fatalf("expected BidPlaced, got %s", got.Status)
	}
	if market.bidCalls != 1 {
		t.Fatalf("expected exactly one bid call, got %d", market.bidCalls)
	}
}

func TestExecuteBid_RetriesTransientThenSucceeds(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now()
	id := newScheduledAuction(st, now.Add(time.Hour), decimal.RequireFromString("50.00"))

	calls := 0
	market := &fakeMarket{}
	s := New(st, &countingMarket{fakeMarket: market, failFirst: 2, calls: &calls}, nil)
	s.clock = func() time.Time { return now }
	s.sleepFn = func(time.Duration) {}

	a, _ := st.Get(context.Background(), id)
	s.executeBid(context.Background(), a)

	got, _ := st.Get(context.Background(), id)
	if got.Status != domain.StatusBidPlaced {
		t.Fatalf("expected eventual success, got %s", got.Status)
	}
}

func TestExecuteBid_NonRetryableFailsImmediately(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now()
	id := newScheduledAuction(st, now.Add(time.Hour), decimal.RequireFromString("50.00"))

	market := &fakeMarket{bidErr: &marketclient.BidError{Kind: marketclient.BidErrorTooLow, Code: "10736", Message: "too low"}}
	s := New(st, market, nil)
	s.clock = func() time.Time { return now }

	a, _ := st.Get(context.Background(), id)
	s.executeBid(context.Background(), a)

	got, _ := st.Get(context.Background(), id)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected Failed on non-retryable error, got %s", got.Status)
	}
	if market.bidCalls != 1 {
		t.Fatalf("expected no retries for a non-retryable error, got %d calls", market.bidCalls)
	}
}

func TestPreBidPriceCheck_SkipsWhenPriceExceedsMaxBid(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now()
	id := newScheduledAuction(st, now.Add(time.Hour), decimal.RequireFromString("10.00"))

	market := &fakeMarket{details: &marketclient.ListingDetails{
		CurrentPrice: decimal.RequireFromString("99.00"),
		Currency:     "USD",
		EndTimeUTC:   now.Add(time.Hour),
	}}
	s := New(st, market, nil)
	s.clock = func() time.Time { return now }

	a, _ := st.Get(context.Background(), id)
	proceed := s.preBidPriceCheck(context.Background(), a, now)
	if proceed {
		t.Fatalf("expected price-exceeds-max-bid to halt execution")
	}

	got, _ := st.Get(context.Background(), id)
	if got.Status != domain.StatusSkipped {
		t.Fatalf("expected Skipped, got %s", got.Status)
	}
}

func TestPreBidPriceCheck_ErrorProceedsWithCachedPrice(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now()
	id := newScheduledAuction(st, now.Add(time.Hour), decimal.RequireFromString("50.00"))

	market := &fakeMarket{detailsErr: &marketclient.UpstreamError{Op: "get_details", StatusCode: 500, Transient: true}}
	s := New(st, market, nil)
	s.clock = func() time.Time { return now }

	a, _ := st.Get(context.Background(), id)
	proceed := s.preBidPriceCheck(context.Background(), a, now)
	if !proceed {
		t.Fatalf("a refresh error should not block execution")
	}
}

func TestProcessAuction_ScheduledPastEndFailsWithBidAttempt(t *testing.T) {
	st := store.NewMemStore()
	now := time.Now()
	id := newScheduledAuction(st, now.Add(-time.Minute), decimal.RequireFromString("50.00"))

	market := &fakeMarket{}
	s := New(st, market, nil)
	s.clock = func() time.Time { return now }

	a, _ := st.Get(context.Background(), id)
	s.processAuction(context.Background(), a, now)

	got, _ := st.Get(context.Background(), id)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected Failed, got %s", got.Status)
	}
	attempt, err := st.GetBidAttempt(context.Background(), id)
	if err != nil {
		t.Fatalf("expected a BidAttempt to be recorded, got error: %v", err)
	}
	if attempt.Result != domain.BidResultFailed {
		t.Fatalf("expected a failure BidAttempt, got %s", attempt.Result)
	}
	if market.bidCalls != 0 {
		t.Fatalf("expected the marketplace not to be called, got %d calls", market.bidCalls)
	}
}

// countingMarket fails the first N PlaceBid calls with a transient error.
type countingMarket struct {
	*fakeMarket
	failFirst int
	calls     *int
}

func (c *countingMarket) PlaceBid(ctx context.Context, listingID string, amount decimal.Decimal) error {
	*c.calls++
	if *c.calls <= c.failFirst {
		return &marketclient.UpstreamError{Op: "place_bid", StatusCode: 503, Transient: true}
	}
	return nil
}
