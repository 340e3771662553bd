package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/domain"
	"github.com/ebaysniper/sniper/internal/marketclient"
	"github.com/ebaysniper/sniper/internal/store"
)

// SettleDelay is how long the reconciler waits after a listing closes
// before asking eBay for the final outcome, giving eBay's own systems time
// to settle the auction. Ported from _check_auction_outcomes's 30s wait.
const SettleDelay = 30 * time.Second

// ReconcilerInterval is how often the reconciler sweeps for auctions ready
// to check, independent of the scheduler's own 500ms tick.
const ReconcilerInterval = 5 * time.Second

// OutcomeSource is the subset of marketclient.Client the reconciler needs.
type OutcomeSource interface {
	GetBidOutcome(ctx context.Context, listingID string) (*marketclient.BidOutcome, error)
	GetFinalPrice(ctx context.Context, listingID string) (decimal.Decimal, bool)
}

// Reconciler periodically resolves BidPlaced auctions' outcomes (Won/Lost)
// once the settle delay has elapsed, per SPEC_FULL §4.5. Grounded on
// _examples/original_source/server/worker.py's _check_auction_outcomes.
type Reconciler struct {
	store  store.Store
	market OutcomeSource
	clock  func() time.Time
}

// NewReconciler builds a Reconciler.
func NewReconciler(st store.Store, market OutcomeSource) *Reconciler {
	return &Reconciler{store: st, market: market, clock: time.Now}
}

// Run sweeps every ReconcilerInterval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(ReconcilerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	now := r.clock()
	auctions, err := r.store.NeedsReconciliation(ctx, now, SettleDelay)
	if err != nil {
		log.WithError(err).Error("reconciler: failed to list auctions needing reconciliation")
		return
	}
	for _, a := range auctions {
		r.reconcileOne(ctx, a)
	}
	r.backfillFinalPrices(ctx, now)
}

// backfillFinalPrices opportunistically populates final_price on any ended
// auction whose outcome is still Pending — including Failed and Skipped
// rows that never went through reconcileOne — via a secondary get-item
// call. It never touches outcome, only final_price. Ported from
// _check_auction_outcomes's second query over
// auctions_needing_final_price.
func (r *Reconciler) backfillFinalPrices(ctx context.Context, now time.Time) {
	auctions, err := r.store.NeedsFinalPriceBackfill(ctx, now)
	if err != nil {
		log.WithError(err).Error("reconciler: failed to list auctions needing final price backfill")
		return
	}
	for _, a := range auctions {
		if now.Sub(a.EndTimeUTC) < SettleDelay {
			continue
		}
		logger := log.WithField("auction_id", a.ID)
		price, ok := r.market.GetFinalPrice(ctx, a.ListingID)
		if !ok {
			continue
		}
		if err := r.store.RecordFinalPrice(ctx, a.ID, price); err != nil {
			logger.WithError(err).Warn("reconciler: failed to backfill final price")
			continue
		}
		logger.WithField("final_price", price).Info("final price backfilled")
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, a *domain.Auction) {
	logger := log.WithField("auction_id", a.ID)

	outcome, err := r.market.GetBidOutcome(ctx, a.ListingID)
	if err != nil {
		logger.WithError(err).Warn("reconciler: failed to fetch bid outcome, will retry next sweep")
		return
	}
	if !outcome.Found || outcome.AuctionStatus != marketclient.AuctionStatusEnded {
		// Not settled yet as far as eBay is concerned; leave Pending and
		// retry on the next sweep.
		return
	}

	result := domain.OutcomeLost
	if outcome.HighBidder {
		result = domain.OutcomeWon
	}

	var finalPrice *decimal.Decimal
	if !outcome.CurrentPrice.IsZero() {
		p := outcome.CurrentPrice
		finalPrice = &p
	} else if price, ok := r.market.GetFinalPrice(ctx, a.ListingID); ok {
		finalPrice = &price
	}

	if err := r.store.RecordOutcome(ctx, a.ID, result, finalPrice); err != nil && err != store.ErrConflict {
		logger.WithError(err).Error("reconciler: failed to record outcome")
		return
	}
	logger.WithFields(log.Fields{"outcome": result, "final_price": finalPrice}).Info("auction outcome reconciled")
}
