// Package store persists the Auction aggregate. Store is the single
// interface the scheduler, reconciler, and IngestAPI depend on; pgstore.go
// implements it against Postgres and memstore.go against an in-memory map
// for fast unit tests. Grounded on
// _examples/original_source/database/models.py for the schema this
// interface is built around.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/domain"
)

// ErrNotFound is returned when an auction ID does not exist.
var ErrNotFound = errors.New("store: auction not found")

// ErrConflict is returned by CAS-style updates when the row's current state
// no longer matches the expected precondition — another actor (another
// scheduler replica, a concurrent Cancel) already moved it.
var ErrConflict = errors.New("store: conflicting update")

// RefreshUpdate carries the fields a live price refresh writes onto an
// auction, ported from _refresh_auction_price's field list.
type RefreshUpdate struct {
	CurrentPrice decimal.Decimal
	Currency     string
	ListingURL   string
	ItemTitle    string
	Seller       string
	EndTimeUTC   time.Time
}

// Store is the persistence boundary for Auction/BidAttempt.
type Store interface {
	// Create inserts a new auction in StatusScheduled and returns its ID.
	Create(ctx context.Context, a *domain.Auction) (int64, error)

	// Get returns one auction by ID.
	Get(ctx context.Context, id int64) (*domain.Auction, error)

	// GetBidAttempt returns the auction's one BidAttempt row, or
	// ErrNotFound if no attempt has been recorded yet.
	GetBidAttempt(ctx context.Context, auctionID int64) (*domain.BidAttempt, error)

	// List returns every auction, most recently created first.
	List(ctx context.Context) ([]*domain.Auction, error)

	// Active returns every Scheduled or Executing auction, the working set
	// the scheduler's tick walks to evaluate pre-bid-check and bid-window
	// timing for each one.
	Active(ctx context.Context) ([]*domain.Auction, error)

	// NeedsReconciliation returns BidPlaced auctions eligible for outcome
	// reconciliation per domain.CanReconcile.
	NeedsReconciliation(ctx context.Context, now time.Time, settleDelay time.Duration) ([]*domain.Auction, error)

	// ClaimForExecution atomically transitions one auction from Scheduled
	// to Executing, returning ErrConflict if it was no longer Scheduled
	// (another tick or replica already claimed or cancelled it). This is
	// the compare-and-swap primitive the exactly-once execution invariant
	// relies on.
	ClaimForExecution(ctx context.Context, id int64) error

	// ApplyPriceRefresh updates the live-read fields from a MarketClient
	// GetDetails call and advances LastRefreshUTC to refreshedAt.
	ApplyPriceRefresh(ctx context.Context, id int64, update RefreshUpdate, refreshedAt time.Time) error

	// RecordBidPlaced transitions Executing -> BidPlaced and writes the
	// one BidAttempt row, atomically.
	RecordBidPlaced(ctx context.Context, id int64, attempt domain.BidAttempt) error

	// RecordBidFailed transitions Executing -> Failed and writes the
	// BidAttempt row describing the failure.
	RecordBidFailed(ctx context.Context, id int64, attempt domain.BidAttempt) error

	// RecordSkipped transitions Scheduled -> Skipped with a reason, used
	// by the scheduler's pre-bid check when the live price exceeds MaxBid.
	RecordSkipped(ctx context.Context, id int64, reason string) error

	// FailScheduled transitions Scheduled -> Failed and writes the BidAttempt
	// row describing why, used for the "auction ended before the scheduler
	// ever claimed it" cleanup case. Unlike RecordBidFailed, the CAS
	// precondition here is Scheduled, not Executing.
	FailScheduled(ctx context.Context, id int64, attempt domain.BidAttempt) error

	// Cancel transitions Scheduled -> Cancelled. Returns ErrConflict if the
	// auction is no longer Scheduled.
	Cancel(ctx context.Context, id int64) error

	// RecordOutcome sets outcome (Won/Lost) and optional final price on a
	// BidPlaced auction still Pending.
	RecordOutcome(ctx context.Context, id int64, outcome domain.Outcome, finalPrice *decimal.Decimal) error

	// NeedsFinalPriceBackfill returns every ended auction (any status) whose
	// outcome is still Pending and whose final price is unknown — the
	// opportunistic backfill pass of §4.5, distinct from
	// NeedsReconciliation's BidPlaced-only outcome pass.
	NeedsFinalPriceBackfill(ctx context.Context, now time.Time) ([]*domain.Auction, error)

	// RecordFinalPrice sets final_price on an auction whose outcome is still
	// Pending, without touching status or outcome. A no-op if the outcome
	// has since moved on.
	RecordFinalPrice(ctx context.Context, id int64, finalPrice decimal.Decimal) error
}
