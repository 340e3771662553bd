// Package domain holds the durable entities of the sniping engine: the
// Auction aggregate, its one-to-one BidAttempt, and the status/outcome
// state machine that governs legal transitions between them.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the pre-outcome lifecycle of an Auction.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusExecuting Status = "executing"
	StatusBidPlaced Status = "bid_placed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Outcome is the separate post-settlement axis.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
)

// BidResult records whether a BidAttempt's submission succeeded.
type BidResult string

const (
	BidResultSuccess BidResult = "success"
	BidResultFailed  BidResult = "failed"
)

// Auction is the primary durable entity. Monetary fields use
// decimal.Decimal (2 fractional digits) rather than float64, matching the
// teacher stack's money-handling convention (sibling payments service).
type Auction struct {
	ID              int64
	ListingID       string
	ListingURL      string
	ItemTitle       string
	Seller          string
	CurrentPrice    decimal.Decimal
	Currency        string
	MaxBid          decimal.Decimal
	EndTimeUTC      time.Time
	LastRefreshUTC  *time.Time
	Status          Status
	SkipReason      string
	Outcome         Outcome
	FinalPrice      *decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BidAttempt is at most one per Auction (invariant 1/2 of SPEC_FULL §3).
type BidAttempt struct {
	AuctionID      int64
	AttemptTimeUTC time.Time
	Result         BidResult
	ErrorMessage   string
}

// nonTerminalStatuses are the statuses the scheduler still actively drives.
var nonTerminalStatuses = map[Status]bool{
	StatusScheduled: true,
	StatusExecuting: true,
}

// IsNonTerminal reports whether the scheduler should still be evaluating
// this auction on future ticks.
func (s Status) IsNonTerminal() bool { return nonTerminalStatuses[s] }

// terminalForRefreshAlways matches SPEC_FULL §4.2's "terminal-for-refresh" set,
// excluding the time-dependent BidPlaced-after-end-time case which callers
// must check separately via RefreshTerminal.
var terminalForRefreshAlways = map[Status]bool{
	StatusCancelled: true,
	StatusFailed:    true,
	StatusSkipped:   true,
}

// RefreshTerminal reports whether refresh must be skipped for this status,
// given the current time and the auction's end time (BidPlaced rows stop
// refreshing only once their auction has actually ended).
func RefreshTerminal(status Status, endTimeUTC, now time.Time) bool {
	if terminalForRefreshAlways[status] {
		return true
	}
	if status == StatusBidPlaced && !now.Before(endTimeUTC) {
		return true
	}
	return false
}

// NeedsRefresh implements the PriceCache refresh-on-read policy (§4.2).
func NeedsRefresh(a *Auction, now time.Time) bool {
	if RefreshTerminal(a.Status, a.EndTimeUTC, now) {
		return false
	}
	if a.LastRefreshUTC == nil {
		return true
	}
	return now.Sub(*a.LastRefreshUTC) > 60*time.Second
}

// legalTransitions enumerates every allowed status move (§4.3). Cancel and
// Skip are reached only through their dedicated operations, not through
// this generic table, but are listed here so CanTransition is a complete
// source of truth for the invariant "no transition out of {BidPlaced,
// Failed, Cancelled, Skipped}".
var legalTransitions = map[Status]map[Status]bool{
	StatusScheduled: {
		StatusExecuting: true,
		StatusCancelled: true,
		StatusSkipped:   true,
		StatusFailed:    true,
	},
	StatusExecuting: {
		StatusBidPlaced: true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	next, ok := legalTransitions[from]
	if !ok {
		return false // from is terminal: BidPlaced, Failed, Cancelled, Skipped
	}
	return next[to]
}

// CanReconcile implements SPEC_FULL §4.5/§9 Open Question 4: outcome
// reconciliation only ever runs for BidPlaced auctions, never Cancelled,
// Skipped, or (the primary transition path) Failed auctions, once the
// settle delay has elapsed.
func CanReconcile(a *Auction, now time.Time, settleDelay time.Duration) bool {
	if a.Status != StatusBidPlaced {
		return false
	}
	if a.Outcome != OutcomePending {
		return false
	}
	return now.After(a.EndTimeUTC.Add(settleDelay))
}
