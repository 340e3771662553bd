package marketclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: 7200})
	}))
	t.Cleanup(tokenSrv.Close)

	creds := NewCredentialManager(tokenSrv.Client(), tokenSrv.URL, "app-id", "cert-id", "refresh-tok", RealClock)
	c := NewClient(EnvironmentSandbox, "app-id", creds)
	c.httpClient = srv.Client()
	c.baseURL = srv.URL
	return c, srv
}

func TestGetDetails_LegacyEndpointSuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/buy/browse/v1/item/get_item_by_legacy_id" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		item := browseItem{ItemEndDate: time.Now().Add(time.Hour).Format(time.RFC3339), ListingType: "AUCTION"}
		item.Price.Value = "12.50"
		item.Price.Currency = "USD"
		item.Title = "Vintage Camera"
		_ = json.NewEncoder(w).Encode(item)
	})
	defer srv.Close()

	details, err := c.GetDetails(context.Background(), "123456789")
	if err != nil {
		t.Fatal(err)
	}
	if details.ItemTitle != "Vintage Camera" {
		t.Fatalf("got title %q", details.ItemTitle)
	}
	if !details.CurrentPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("got price %s", details.CurrentPrice)
	}
}

func TestGetDetails_FallsBackToCanonicalOn404(t *testing.T) {
	var calls []string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if r.URL.Path == "/buy/browse/v1/item/get_item_by_legacy_id" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		item := browseItem{ItemEndDate: time.Now().Add(time.Hour).Format(time.RFC3339), ListingType: "AUCTION"}
		item.Price.Value = "5.00"
		item.Price.Currency = "USD"
		_ = json.NewEncoder(w).Encode(item)
	})
	defer srv.Close()

	details, err := c.GetDetails(context.Background(), "v1|123|0")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected legacy then canonical call, got %v", calls)
	}
	if !details.CurrentPrice.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("got price %s", details.CurrentPrice)
	}
}

func TestGetDetails_RejectsNonAuctionListing(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		item := browseItem{ItemEndDate: time.Now().Add(time.Hour).Format(time.RFC3339), ListingType: "FIXED_PRICE"}
		item.Price.Value = "10.00"
		_ = json.NewEncoder(w).Encode(item)
	})
	defer srv.Close()

	if _, err := c.GetDetails(context.Background(), "1"); err == nil {
		t.Fatalf("expected error for non-auction listing")
	}
}

func TestGetDetails_RateLimitIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := c.GetDetails(context.Background(), "1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected 429 to classify as transient, got %v", err)
	}
}

func TestPlaceBid_SuccessAck(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-EBAY-SOA-OPERATION-NAME") != "PlaceOffer" {
			t.Fatalf("missing operation header")
		}
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><PlaceOfferResponse><Ack>Success</Ack></PlaceOfferResponse>`)
	})
	defer srv.Close()

	err := c.PlaceBid(context.Background(), "123", decimal.RequireFromString("99.99"))
	if err != nil {
		t.Fatal(err)
	}
}

func TestPlaceBid_MapsKnownErrorCodeToBidError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><PlaceOfferResponse><Ack>Failure</Ack><Errors><ErrorCode>10734</ErrorCode><LongMessage>ended</LongMessage></Errors></PlaceOfferResponse>`)
	})
	defer srv.Close()

	err := c.PlaceBid(context.Background(), "123", decimal.RequireFromString("10.00"))
	if err == nil {
		t.Fatalf("expected error")
	}
	be, ok := err.(*BidError)
	if !ok {
		t.Fatalf("expected *BidError, got %T: %v", err, err)
	}
	if be.Kind != BidErrorItemEnded {
		t.Fatalf("expected ItemEnded, got %s", be.Kind)
	}
}

func TestPlaceBid_UnparsableResponseFallsBackToParseError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not xml at all`)
	})
	defer srv.Close()

	err := c.PlaceBid(context.Background(), "123", decimal.RequireFromString("10.00"))
	be, ok := err.(*BidError)
	if !ok {
		t.Fatalf("expected *BidError, got %T", err)
	}
	if be.Code != "PARSE_ERROR" {
		t.Fatalf("expected PARSE_ERROR code, got %s", be.Code)
	}
}

func TestPlaceBid_ServerErrorIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	err := c.PlaceBid(context.Background(), "123", decimal.RequireFromString("10.00"))
	if !IsTransient(err) {
		t.Fatalf("expected 503 to be transient, got %v", err)
	}
}

func TestGetBidOutcome_NotFoundLeavesOutcomePending(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	outcome, err := c.GetBidOutcome(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Found {
		t.Fatalf("expected Found=false on 404")
	}
}

func TestGetBidOutcome_EndedHighBidder(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := biddingResponse{AuctionStatus: "ENDED", HighBidder: true}
		resp.CurrentPrice.Value = "42.00"
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	outcome, err := c.GetBidOutcome(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Found || outcome.AuctionStatus != AuctionStatusEnded || !outcome.HighBidder {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !outcome.CurrentPrice.Equal(decimal.RequireFromString("42.00")) {
		t.Fatalf("got price %s", outcome.CurrentPrice)
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	for i := 0; i < 5; i++ {
		_, _ = c.GetDetails(context.Background(), "1")
	}
	_, err := c.GetDetails(context.Background(), "1")
	if err == nil {
		t.Fatalf("expected circuit-open error")
	}
}
