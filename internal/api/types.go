package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/domain"
)

// AuthRequest is the Authenticate operation's body.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries the bearer token issued by Authenticate.
type AuthResponse struct {
	Token string `json:"token"`
}

// AddAuctionRequest is AddAuction's body.
type AddAuctionRequest struct {
	ListingID string          `json:"listing_id"`
	MaxBid    decimal.Decimal `json:"max_bid"`
}

// BulkAddRequest wraps one AddAuction per item.
type BulkAddRequest struct {
	Items []AddAuctionRequest `json:"items"`
}

// BulkAddItemResult is one BulkAdd item's per-item outcome.
type BulkAddItemResult struct {
	ListingID    string           `json:"listing_id"`
	MaxBid       decimal.Decimal  `json:"max_bid"`
	Success      bool             `json:"success"`
	AuctionID    *int64           `json:"auction_id,omitempty"`
	ItemTitle    string           `json:"item_title,omitempty"`
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
	EndTimeUTC   *time.Time       `json:"end_time_utc,omitempty"`
	ListingURL   string           `json:"listing_url,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// BulkAddResponse is BulkAdd's body.
type BulkAddResponse struct {
	Results []BulkAddItemResult `json:"results"`
}

// AuctionResponse is the public projection of domain.Auction.
type AuctionResponse struct {
	ID             int64            `json:"id"`
	ListingID      string           `json:"listing_id"`
	ListingURL     string           `json:"listing_url"`
	ItemTitle      string           `json:"item_title"`
	Seller         string           `json:"seller_name,omitempty"`
	CurrentPrice   decimal.Decimal  `json:"current_price"`
	MaxBid         decimal.Decimal  `json:"max_bid"`
	Currency       string           `json:"currency"`
	EndTimeUTC     time.Time        `json:"auction_end_time_utc"`
	LastRefreshUTC *time.Time       `json:"last_price_refresh_utc,omitempty"`
	Status         domain.Status    `json:"status"`
	SkipReason     string           `json:"skip_reason,omitempty"`
	Outcome        domain.Outcome   `json:"outcome"`
	FinalPrice     *decimal.Decimal `json:"final_price,omitempty"`
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		ID:             a.ID,
		ListingID:      a.ListingID,
		ListingURL:     a.ListingURL,
		ItemTitle:      a.ItemTitle,
		Seller:         a.Seller,
		CurrentPrice:   a.CurrentPrice,
		MaxBid:         a.MaxBid,
		Currency:       a.Currency,
		EndTimeUTC:     a.EndTimeUTC,
		LastRefreshUTC: a.LastRefreshUTC,
		Status:         a.Status,
		SkipReason:     a.SkipReason,
		Outcome:        a.Outcome,
		FinalPrice:     a.FinalPrice,
	}
}

// BidAttemptResponse is GetLogs's body; nil when no attempt has been made yet.
type BidAttemptResponse struct {
	AuctionID      int64             `json:"auction_id"`
	AttemptTimeUTC time.Time         `json:"attempt_time_utc"`
	Result         domain.BidResult  `json:"result"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}
