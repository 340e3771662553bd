// Package marketclient implements the sniper's only outbound collaborator:
// the eBay marketplace. It exposes exactly the three logical operations
// SPEC_FULL §6 requires (GetDetails, PlaceBid, GetBidOutcome) plus OAuth
// credential management, and returns structured results instead of the
// original client's string-matched error classification (spec §9 Open
// Questions 1-2).
package marketclient

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ListingType distinguishes auction-style listings from fixed-price ones.
type ListingType string

const (
	ListingTypeAuction    ListingType = "AUCTION"
	ListingTypeFixedPrice ListingType = "FIXED_PRICE"
)

// ListingDetails is the result of GetDetails.
type ListingDetails struct {
	ListingID    string
	ListingURL   string
	ItemTitle    string
	Seller       string
	CurrentPrice decimal.Decimal
	Currency     string
	EndTimeUTC   time.Time
	ListingType  ListingType
}

// BidOutcomeStatus is the marketplace's reported auction state at
// reconciliation time.
type BidOutcomeStatus string

const (
	AuctionStatusEnded    BidOutcomeStatus = "ENDED"
	AuctionStatusActive   BidOutcomeStatus = "ACTIVE"
	AuctionStatusUnknown  BidOutcomeStatus = "UNKNOWN"
)

// BidOutcome is the result of GetBidOutcome.
type BidOutcome struct {
	AuctionStatus BidOutcomeStatus
	HighBidder    bool
	CurrentPrice  decimal.Decimal
	// Found is false on a 404 ("we never bid / unknown"); outcome stays Pending.
	Found bool
}

// BidErrorKind is the tagged-variant discriminant for place_bid failures,
// replacing the original client's textual "5" in error_str / substring
// scanning (spec §9 design note, Open Questions 1-2).
type BidErrorKind string

const (
	BidErrorItemEnded BidErrorKind = "item_ended"
	BidErrorTooLow    BidErrorKind = "bid_too_low"
	BidErrorTooHigh   BidErrorKind = "bid_too_high"
	BidErrorBlocked   BidErrorKind = "blocked"
	BidErrorOther     BidErrorKind = "other"
)

// eBay Trading API place_bid error codes, mapped to human messages per
// SPEC_FULL §6 (ported from ebay_client.py's error_code_messages table).
var tradingErrorMessages = map[string]string{
	"10729": "Item not found or auction ended",
	"10734": "Auction has ended",
	"10736": "Bid amount is below the minimum bid increment",
	"10735": "Bid amount exceeds maximum bid",
	"10730": "Bid retraction not allowed",
	"10731": "Cannot bid on your own item",
	"10732": "Cannot bid on behalf of another user",
	"10733": "Bidder is blocked from this auction",
}

var tradingErrorKinds = map[string]BidErrorKind{
	"10729": BidErrorItemEnded,
	"10734": BidErrorItemEnded,
	"10736": BidErrorTooLow,
	"10735": BidErrorTooHigh,
	"10730": BidErrorBlocked,
	"10731": BidErrorBlocked,
	"10732": BidErrorBlocked,
	"10733": BidErrorBlocked,
}

// BidError is the tagged variant named in SPEC_FULL §9:
// BidError = { ItemEnded, BidTooLow, BidTooHigh, Blocked, Other(code,msg) }.
type BidError struct {
	Kind    BidErrorKind
	Code    string
	Message string
}

func (e *BidError) Error() string {
	return fmt.Sprintf("ebay place_bid error %s: %s", e.Code, e.Message)
}

// NewBidErrorFromCode builds a BidError from a Trading API error code,
// falling back to Other with the raw message when the code is unmapped —
// including "PARSE_ERROR" when the XML itself failed to parse (ported
// from ebay_client.py's _parse_trading_api_response PARSE_ERROR fallback).
func NewBidErrorFromCode(code, rawMessage string) *BidError {
	kind, ok := tradingErrorKinds[code]
	if !ok {
		kind = BidErrorOther
	}
	msg := rawMessage
	if friendly, ok := tradingErrorMessages[code]; ok {
		msg = friendly
	}
	return &BidError{Kind: kind, Code: code, Message: msg}
}

// UpstreamError distinguishes transient (retryable) upstream failures from
// permanent ones, per SPEC_FULL §7's UpstreamTransient/UpstreamPermanent
// taxonomy. StatusCode is 0 for non-HTTP failures (timeouts, network).
type UpstreamError struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("marketclient %s: status=%d transient=%v: %v", e.Op, e.StatusCode, e.Transient, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRateLimited reports whether this upstream failure was an HTTP 429,
// the distinguished rate-limit signal the PriceCache treats specially.
func (e *UpstreamError) IsRateLimited() bool { return e.StatusCode == 429 }
