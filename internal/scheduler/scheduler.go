// Package scheduler drives the bid-execution tick loop: a 500ms ticker
// that walks every non-terminal auction and fires the pre-bid price check
// and the bid placement at their respective windows. The 1s window spans
// two 500ms ticks, so the price check can run twice; the bid is placed at
// most once, guarded by the ClaimForExecution compare-and-swap.
// Grounded on _examples/original_source/server/worker.py's Worker.run_loop
// / _process_auction / _execute_bid.
package scheduler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ebaysniper/sniper/internal/domain"
	"github.com/ebaysniper/sniper/internal/marketclient"
	"github.com/ebaysniper/sniper/internal/store"
)

const (
	// TickInterval is how often the scheduler re-evaluates every active
	// auction, matching the original's time.sleep(0.5).
	TickInterval = 500 * time.Millisecond

	// bidOffset is how long before the listing's end time the bid is
	// placed, so the proxy-bid amount is locked in before last-second
	// competing bids can push the price past MaxBid unnoticed.
	bidOffset = 3 * time.Second

	// preBidCheckOffset is when the live price is re-checked before
	// committing to bid, per SPEC_FULL's T-60s guard.
	preBidCheckOffset = 60 * time.Second

	// windowSlop is how wide the "has this moment arrived yet" window is
	// on each tick, so a 500ms tick never straddles a 1s check-point.
	windowSlop = time.Second

	// bidTimeoutSlop is how close to the hard end time the retry loop
	// gives up rather than risk a bid landing after the auction closes.
	bidTimeoutSlop = 300 * time.Millisecond
)

// MarketClient is the subset of marketclient.Client the scheduler drives.
type MarketClient interface {
	GetDetails(ctx context.Context, listingID string) (*marketclient.ListingDetails, error)
	PlaceBid(ctx context.Context, listingID string, amount decimal.Decimal) error
}

// CredentialRefresher preemptively refreshes the bidding token ahead of a
// known deadline, implemented by marketclient.CredentialManager.
type CredentialRefresher interface {
	EnsureUserTokenFor(ctx context.Context, deadline time.Time) error
}

// Scheduler is the single-worker bid-execution engine.
type Scheduler struct {
	store       store.Store
	market      MarketClient
	creds       CredentialRefresher
	clock       func() time.Time
	sleepFn     func(time.Duration)
	delays      []time.Duration
	maxAttempts int
}

// New builds a Scheduler using the real marketclient retry policy.
func New(st store.Store, market MarketClient, creds CredentialRefresher) *Scheduler {
	return &Scheduler{
		store:       st,
		market:      market,
		creds:       creds,
		clock:       time.Now,
		sleepFn:     time.Sleep,
		delays:      marketclient.BidRetryDelays,
		maxAttempts: marketclient.MaxBidAttempts,
	}
}

// Run ticks every TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick processes every active auction once, mirroring run_loop's single
// pass per iteration; errors on one auction never abort the others.
func (s *Scheduler) tick(ctx context.Context) {
	auctions, err := s.store.Active(ctx)
	if err != nil {
		log.WithError(err).Error("scheduler: failed to list active auctions")
		return
	}
	now := s.clock()
	for _, a := range auctions {
		s.processAuction(ctx, a, now)
	}
}

func (s *Scheduler) processAuction(ctx context.Context, a *domain.Auction, now time.Time) {
	logger := log.WithField("auction_id", a.ID)

	switch a.Status {
	case domain.StatusExecuting:
		// A prior process crashed mid-bid; once the listing has closed
		// there is no safe retry window left, so mark it Failed.
		if !now.Before(a.EndTimeUTC) {
			attempt := domain.BidAttempt{AuctionID: a.ID, AttemptTimeUTC: now, Result: domain.BidResultFailed, ErrorMessage: "Worker crashed during execution, auction ended"}
			if err := s.store.RecordBidFailed(ctx, a.ID, attempt); err != nil && err != store.ErrConflict {
				logger.WithError(err).Error("scheduler: failed to fail stuck Executing auction")
			}
		}
		return

	case domain.StatusScheduled:
		// Cleanup: the scheduler wasn't running when this auction closed.
		if !now.Before(a.EndTimeUTC) {
			attempt := domain.BidAttempt{AuctionID: a.ID, AttemptTimeUTC: now, Result: domain.BidResultFailed, ErrorMessage: "Auction ended before worker could process it"}
			if err := s.store.FailScheduled(ctx, a.ID, attempt); err != nil && err != store.ErrConflict {
				logger.WithError(err).Error("scheduler: failed to fail missed auction")
			}
			return
		}

		preCheckAt := a.EndTimeUTC.Add(-preBidCheckOffset)
		if withinWindow(now, preCheckAt) {
			if !s.preBidPriceCheck(ctx, a, now) {
				return
			}
		}

		bidAt := a.EndTimeUTC.Add(-bidOffset)
		if withinWindow(now, bidAt) {
			s.executeBid(ctx, a)
		}
	}
}

// withinWindow reports whether target lies at most one tick's worth of
// slop ahead of now — the Go analogue of the original's
// `0 <= (target - now).total_seconds() < 1` check.
func withinWindow(now, target time.Time) bool {
	delta := target.Sub(now)
	return delta >= 0 && delta < windowSlop
}

// preBidPriceCheck refreshes the live price at T-60s and skips the
// auction if it has already run past MaxBid. A refresh error does not
// block execution — the scheduler proceeds with the cached price, per
// the original's "continue with normal execution on error" fallback.
func (s *Scheduler) preBidPriceCheck(ctx context.Context, a *domain.Auction, now time.Time) bool {
	logger := log.WithField("auction_id", a.ID)

	details, err := s.market.GetDetails(ctx, a.ListingID)
	if err != nil {
		logger.WithError(err).Warn("scheduler: pre-bid price check failed, proceeding with cached price")
		return true
	}

	if err := s.store.ApplyPriceRefresh(ctx, a.ID, store.RefreshUpdate{
		CurrentPrice: details.CurrentPrice,
		Currency:     details.Currency,
		ListingURL:   details.ListingURL,
		ItemTitle:    details.ItemTitle,
		Seller:       details.Seller,
		EndTimeUTC:   details.EndTimeUTC,
	}, now); err != nil {
		logger.WithError(err).Warn("scheduler: failed to persist pre-bid price refresh")
	}

	if details.CurrentPrice.GreaterThan(a.MaxBid) {
		reason := "Current price exceeded max bid at T-60s"
		if err := s.store.RecordSkipped(ctx, a.ID, reason); err != nil && err != store.ErrConflict {
			logger.WithError(err).Error("scheduler: failed to record skip")
		}
		logger.WithFields(log.Fields{"current_price": details.CurrentPrice, "max_bid": a.MaxBid}).Info("auction skipped: price exceeded max bid")
		return false
	}
	return true
}

// executeBid claims the auction via CAS, then runs the fixed-delay retry
// loop placing a proxy bid at MaxBid. eBay's own proxy-bidding system bids
// incrementally up to this ceiling as needed, so there's no need to chase
// the current price here.
func (s *Scheduler) executeBid(ctx context.Context, a *domain.Auction) {
	logger := log.WithField("auction_id", a.ID)

	if err := s.store.ClaimForExecution(ctx, a.ID); err != nil {
		if err != store.ErrConflict {
			logger.WithError(err).Error("scheduler: failed to claim auction for execution")
		}
		return
	}

	if !s.clock().Before(a.EndTimeUTC) {
		s.failBid(ctx, a.ID, "Auction ended before bid could be placed")
		return
	}

	if s.creds != nil {
		if err := s.creds.EnsureUserTokenFor(ctx, a.EndTimeUTC); err != nil {
			logger.WithError(err).Warn("scheduler: failed to preemptively refresh bidding token")
		}
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if !s.clock().Before(a.EndTimeUTC.Add(-bidTimeoutSlop)) {
			s.failBid(ctx, a.ID, "Ran out of time window")
			return
		}

		err := s.market.PlaceBid(ctx, a.ListingID, a.MaxBid)
		if err == nil {
			placed := domain.BidAttempt{AuctionID: a.ID, AttemptTimeUTC: s.clock(), Result: domain.BidResultSuccess}
			if err := s.store.RecordBidPlaced(ctx, a.ID, placed); err != nil {
				logger.WithError(err).Error("scheduler: failed to record successful bid")
			} else {
				logger.Info("bid placed successfully")
			}
			return
		}

		if !s.retryable(err) || attempt == s.maxAttempts-1 {
			s.failBid(ctx, a.ID, err.Error())
			return
		}

		logger.WithError(err).WithField("attempt", attempt+1).Warn("bid attempt failed, retrying")
		s.sleep(s.delayFor(attempt))
	}

	s.failBid(ctx, a.ID, "All retry attempts exhausted")
}

func (s *Scheduler) failBid(ctx context.Context, auctionID int64, message string) {
	attempt := domain.BidAttempt{AuctionID: auctionID, AttemptTimeUTC: s.clock(), Result: domain.BidResultFailed, ErrorMessage: message}
	if err := s.store.RecordBidFailed(ctx, auctionID, attempt); err != nil {
		log.WithError(err).WithField("auction_id", auctionID).Error("scheduler: failed to record bid failure")
	}
}

func (s *Scheduler) delayFor(attempt int) time.Duration {
	if attempt < len(s.delays) {
		return s.delays[attempt]
	}
	return s.delays[len(s.delays)-1]
}

func (s *Scheduler) sleep(d time.Duration) { s.sleepFn(d) }

// retryable reports whether a PlaceBid failure is worth another attempt:
// transient upstream errors (timeouts, 429s, 5xx) per UpstreamError.Transient,
// never the structured BidError variants (those are eBay's final word).
func (s *Scheduler) retryable(err error) bool {
	if ue, ok := err.(*marketclient.UpstreamError); ok {
		return ue.Transient
	}
	return false
}
