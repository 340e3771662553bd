package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusExecuting, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusSkipped, true},
		{StatusScheduled, StatusFailed, true},
		{StatusScheduled, StatusBidPlaced, false},
		{StatusExecuting, StatusBidPlaced, true},
		{StatusExecuting, StatusFailed, true},
		{StatusExecuting, StatusScheduled, false},
		{StatusBidPlaced, StatusFailed, false},
		{StatusFailed, StatusScheduled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusSkipped, StatusScheduled, false},
		{StatusScheduled, StatusScheduled, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	fresh := now.Add(-30 * time.Second)
	stale := now.Add(-61 * time.Second)

	cases := []struct {
		name string
		a    Auction
		want bool
	}{
		{"never refreshed", Auction{Status: StatusScheduled, EndTimeUTC: now.Add(time.Hour)}, true},
		{"fresh", Auction{Status: StatusScheduled, EndTimeUTC: now.Add(time.Hour), LastRefreshUTC: &fresh}, false},
		{"stale", Auction{Status: StatusScheduled, EndTimeUTC: now.Add(time.Hour), LastRefreshUTC: &stale}, true},
		{"cancelled never refreshes", Auction{Status: StatusCancelled, EndTimeUTC: now.Add(time.Hour), LastRefreshUTC: &stale}, false},
		{"bidplaced before end still refreshes", Auction{Status: StatusBidPlaced, EndTimeUTC: now.Add(time.Hour), LastRefreshUTC: &stale}, true},
		{"bidplaced after end stops refreshing", Auction{Status: StatusBidPlaced, EndTimeUTC: now.Add(-time.Minute), LastRefreshUTC: &stale}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := NeedsRefresh(&c.a, now); got != c.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestCanReconcile(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	settle := 30 * time.Second

	a := Auction{Status: StatusBidPlaced, Outcome: OutcomePending, EndTimeUTC: now.Add(-31 * time.Second)}
	if !CanReconcile(&a, now, settle) {
		t.Fatalf("expected reconcile eligible past settle delay")
	}

	tooSoon := Auction{Status: StatusBidPlaced, Outcome: OutcomePending, EndTimeUTC: now.Add(-10 * time.Second)}
	if CanReconcile(&tooSoon, now, settle) {
		t.Fatalf("expected reconcile not eligible before settle delay")
	}

	cancelled := Auction{Status: StatusCancelled, Outcome: OutcomePending, EndTimeUTC: now.Add(-time.Hour)}
	if CanReconcile(&cancelled, now, settle) {
		t.Fatalf("cancelled auctions must never be reconciled")
	}

	failed := Auction{Status: StatusFailed, Outcome: OutcomePending, EndTimeUTC: now.Add(-time.Hour)}
	if CanReconcile(&failed, now, settle) {
		t.Fatalf("failed auctions are not reconciled for outcome, only opportunistic final_price backfill applies")
	}
}

func TestAuctionDecimalFields(t *testing.T) {
	a := Auction{
		MaxBid:       decimal.RequireFromString("120.00"),
		CurrentPrice: decimal.RequireFromString("90.00"),
	}
	if !a.MaxBid.GreaterThan(a.CurrentPrice) {
		t.Fatalf("expected max bid to exceed current price")
	}
}
