package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/auth"
	"github.com/ebaysniper/sniper/internal/domain"
	"github.com/ebaysniper/sniper/internal/marketclient"
	"github.com/ebaysniper/sniper/internal/pricecache"
	"github.com/ebaysniper/sniper/internal/store"
)

// DetailsFetcher is the narrow slice of marketclient.Client AddAuction/BulkAdd
// need: a fresh listing snapshot for a brand-new listing ID.
type DetailsFetcher interface {
	GetDetails(ctx context.Context, listingID string) (*marketclient.ListingDetails, error)
}

// Handlers implements the IngestAPI HTTP surface (SPEC_FULL §4.6), grounded
// operation-for-operation on _examples/original_source/server/api.py.
type Handlers struct {
	store  store.Store
	market DetailsFetcher
	prices *pricecache.Cache
	issuer *auth.Issuer
}

// NewHandlers wires the IngestAPI layer.
func NewHandlers(st store.Store, market DetailsFetcher, prices *pricecache.Cache, issuer *auth.Issuer) *Handlers {
	return &Handlers{store: st, market: market, prices: prices, issuer: issuer}
}

// HealthCheck returns service health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "sniper",
	})
}

// Authenticate issues a bearer token for any non-empty username/password
// pair — there is exactly one operator role and no external identity
// provider, matching auth()'s "accept any credentials" behavior.
func (h *Handlers) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Missing username or password")
		return
	}
	token, err := h.issuer.Issue(req.Username)
	if err != nil {
		log.WithError(err).Error("failed to issue token")
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	respondJSON(w, http.StatusOK, AuthResponse{Token: token})
}

// AddAuction fetches live listing details and persists a new Scheduled
// auction, ported from add_sniper().
func (h *Handlers) AddAuction(w http.ResponseWriter, r *http.Request) {
	var req AddAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	existing, err := h.findByListingID(r.Context(), req.ListingID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check for existing auction")
		return
	}
	if existing != nil {
		respondError(w, http.StatusBadRequest, "Auction already exists")
		return
	}

	a, status, msg := h.newScheduledAuction(r.Context(), req.ListingID, req.MaxBid)
	if msg != "" {
		respondError(w, status, msg)
		return
	}

	id, err := h.store.Create(r.Context(), a)
	if err != nil {
		log.WithError(err).Error("failed to persist auction")
		respondError(w, http.StatusInternalServerError, "Failed to save auction")
		return
	}
	created, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load saved auction")
		return
	}
	respondJSON(w, http.StatusOK, toAuctionResponse(created))
}

// BulkAdd applies AddAuction's validation per item, continuing past
// per-item failures, ported from bulk_add_snipers().
func (h *Handlers) BulkAdd(w http.ResponseWriter, r *http.Request) {
	var req BulkAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	results := make([]BulkAddItemResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, h.bulkAddOne(r.Context(), item))
	}
	respondJSON(w, http.StatusOK, BulkAddResponse{Results: results})
}

func (h *Handlers) bulkAddOne(ctx context.Context, item AddAuctionRequest) BulkAddItemResult {
	result := BulkAddItemResult{ListingID: item.ListingID, MaxBid: item.MaxBid}

	existing, err := h.findByListingID(ctx, item.ListingID)
	if err != nil {
		result.ErrorMessage = "Failed to check for existing auction"
		return result
	}
	if existing != nil {
		result.ErrorMessage = "Auction already exists"
		return result
	}

	a, _, msg := h.newScheduledAuction(ctx, item.ListingID, item.MaxBid)
	if msg != "" {
		result.ErrorMessage = msg
		return result
	}

	id, err := h.store.Create(ctx, a)
	if err != nil {
		result.ErrorMessage = "Unexpected error: " + err.Error()
		return result
	}
	created, err := h.store.Get(ctx, id)
	if err != nil {
		result.ErrorMessage = "Unexpected error: " + err.Error()
		return result
	}

	result.Success = true
	result.AuctionID = &created.ID
	result.ItemTitle = created.ItemTitle
	result.CurrentPrice = &created.CurrentPrice
	result.EndTimeUTC = &created.EndTimeUTC
	result.ListingURL = created.ListingURL
	return result
}

// newScheduledAuction fetches live details for a brand-new listing ID and
// builds the Scheduled auction AddAuction/BulkAdd persist, validating
// ListingType/end-time/max-bid per SPEC_FULL §4.6. The returned int/string
// are an HTTP status and error message, empty on success.
func (h *Handlers) newScheduledAuction(ctx context.Context, listingID string, maxBid decimal.Decimal) (*domain.Auction, int, string) {
	details, err := h.market.GetDetails(ctx, listingID)
	if err != nil {
		var upstream *marketclient.UpstreamError
		if errors.As(err, &upstream) {
			if upstream.StatusCode == http.StatusNotFound {
				return nil, http.StatusBadRequest, "Listing " + listingID + " not found via eBay Browse API. " +
					"This listing may not be accessible through the API, may have ended, or may have regional restrictions."
			}
			return nil, http.StatusBadRequest, "Failed to fetch auction from eBay: " + upstream.Error()
		}
		return nil, http.StatusBadRequest, "Failed to fetch auction details: " + err.Error()
	}

	if details.ListingType != marketclient.ListingTypeAuction {
		return nil, http.StatusBadRequest, "Listing " + listingID + " is not an auction-style listing"
	}
	now := time.Now().UTC()
	if !details.EndTimeUTC.After(now) {
		return nil, http.StatusBadRequest, "Auction has ended"
	}
	if !maxBid.GreaterThan(details.CurrentPrice) {
		return nil, http.StatusBadRequest, "Max bid (" + maxBid.String() + ") must be greater than current price (" + details.CurrentPrice.String() + ")"
	}

	return &domain.Auction{
		ListingID:      listingID,
		ListingURL:     details.ListingURL,
		ItemTitle:      details.ItemTitle,
		Seller:         details.Seller,
		CurrentPrice:   details.CurrentPrice,
		Currency:       details.Currency,
		MaxBid:         maxBid,
		EndTimeUTC:     details.EndTimeUTC,
		LastRefreshUTC: &now,
	}, 0, ""
}

func (h *Handlers) findByListingID(ctx context.Context, listingID string) (*domain.Auction, error) {
	all, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.ListingID == listingID && a.Status.IsNonTerminal() {
			return a, nil
		}
	}
	return nil, nil
}

// ListAuctions returns every auction ordered by end time ascending,
// refreshing stale prices in a bounded fan-out first, ported from
// list_snipers().
func (h *Handlers) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list auctions")
		return
	}

	h.prices.RefreshBatch(r.Context(), auctions, time.Now().UTC())

	refreshed, err := h.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list auctions")
		return
	}
	sort.Slice(refreshed, func(i, j int) bool {
		return refreshed[i].EndTimeUTC.Before(refreshed[j].EndTimeUTC)
	})
	out := make([]AuctionResponse, 0, len(refreshed))
	for _, a := range refreshed {
		out = append(out, toAuctionResponse(a))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetStatus returns one auction, refreshing its price first if stale.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAuctionID(w, r)
	if !ok {
		return
	}
	a, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load auction")
		return
	}

	if pricecache.ShouldRefresh(a, time.Now().UTC()) {
		if err := h.prices.RefreshOne(r.Context(), a); err != nil {
			log.WithError(err).WithField("auction_id", id).Warn("failed to refresh price")
		}
		if refreshed, err := h.store.Get(r.Context(), id); err == nil {
			a = refreshed
		}
	}

	respondJSON(w, http.StatusOK, toAuctionResponse(a))
}

// Cancel transitions a Scheduled auction to Cancelled, ported from remove_sniper().
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAuctionID(w, r)
	if !ok {
		return
	}
	err := h.store.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Auction not found")
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusBadRequest, "Cannot cancel auction that is not scheduled")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to cancel auction")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"message": "Listing cancelled"})
	}
}

// GetLogs returns the auction's one BidAttempt row, or null if no attempt
// has been made yet, ported from get_logs().
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAuctionID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.Get(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Auction not found")
		return
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load auction")
		return
	}

	attempt, err := h.store.GetBidAttempt(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load bid attempt")
		return
	}
	respondJSON(w, http.StatusOK, BidAttemptResponse{
		AuctionID:      attempt.AuctionID,
		AttemptTimeUTC: attempt.AttemptTimeUTC,
		Result:         attempt.Result,
		ErrorMessage:   attempt.ErrorMessage,
	})
}

func pathAuctionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["auction_id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid auction id")
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
