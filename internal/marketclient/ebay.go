package marketclient

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Environment selects the eBay base URL.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

const (
	sandboxBase    = "https://api.sandbox.ebay.com"
	productionBase = "https://api.ebay.com"
	marketplaceUS  = "EBAY_US"
)

// Client is the concrete eBay implementation of the three MarketClient
// operations SPEC_FULL §6 names. Structurally adapted from the teacher's
// internal/bidders/admost.go (circuit-breaker fast-fail around one HTTP
// call, tracing span, metrics+debug capture; no retries inside the client);
// behavior ported from _examples/original_source/server/ebay_client.py.
type Client struct {
	httpClient *http.Client
	creds      *CredentialManager
	baseURL    string
	appID      string
	marketID   string // "EBAY_US" in production, empty in sandbox

	cb *CircuitBreaker

	tracer  Tracer
	metrics MetricsSink
	debug   DebugSink
}

// Tracer/MetricsSink/DebugSink are narrow seams so this client can be
// wired to the observability package without an import cycle; concrete
// implementations live in internal/observability and are adapted there
// from the teacher's Span/Tracer, MetricsRecorder, and Debugger types.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span)
}
type Span interface {
	End()
	SetAttr(key, val string)
}
type MetricsSink interface {
	RecordLatency(op string, ms float64)
	RecordOutcome(op, outcome string)
}
type DebugSink interface {
	Capture(listingID, op, outcome, reason string)
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                    {}
func (noopSpan) SetAttr(string, string) {}

type noopMetricsSink struct{}

func (noopMetricsSink) RecordLatency(string, float64)  {}
func (noopMetricsSink) RecordOutcome(string, string) {}

type noopDebugSink struct{}

func (noopDebugSink) Capture(string, string, string, string) {}

// NewClient builds an eBay client. appID is used as the
// X-EBAY-SOA-SECURITY-APPNAME header required by the Trading API.
func NewClient(env Environment, appID string, creds *CredentialManager) *Client {
	base := sandboxBase
	marketID := ""
	if env == EnvironmentProduction {
		base = productionBase
		marketID = marketplaceUS
	}
	return &Client{
		httpClient: &http.Client{},
		creds:      creds,
		baseURL:    base,
		appID:      appID,
		marketID:   marketID,
		cb:         NewCircuitBreaker(5, 30*time.Second),
		tracer:     noopTracer{},
		metrics:    noopMetricsSink{},
		debug:      noopDebugSink{},
	}
}

// SetTracer/SetMetrics/SetDebug wire real observability implementations.
func (c *Client) SetTracer(t Tracer)       { if t != nil { c.tracer = t } }
func (c *Client) SetMetrics(m MetricsSink) { if m != nil { c.metrics = m } }
func (c *Client) SetDebug(d DebugSink)     { if d != nil { c.debug = d } }

// browseItem is the subset of the Browse API's item representation this
// client needs. Ported from _parse_browse_api_response.
type browseItem struct {
	ItemEndDate string `json:"itemEndDate"`
	Price       struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	Title       string `json:"title"`
	ItemWebURL  string `json:"itemWebUrl"`
	Seller      struct {
		Username string `json:"username"`
		UserID   string `json:"userId"`
	} `json:"seller"`
	ListingType string `json:"listingType"`
}

func (c *Client) parseBrowseItem(listingID string, data browseItem) (*ListingDetails, error) {
	if data.ItemEndDate == "" {
		return nil, fmt.Errorf("marketclient: no end date found for listing %s", listingID)
	}
	endTime, err := time.Parse(time.RFC3339, data.ItemEndDate)
	if err != nil {
		return nil, fmt.Errorf("marketclient: invalid itemEndDate %q: %w", data.ItemEndDate, err)
	}
	price, err := decimal.NewFromString(defaultString(data.Price.Value, "0"))
	if err != nil {
		return nil, fmt.Errorf("marketclient: invalid price %q: %w", data.Price.Value, err)
	}
	currency := defaultString(data.Price.Currency, "USD")

	listingType := ListingTypeFixedPrice
	if strings.EqualFold(data.ListingType, "AUCTION") {
		listingType = ListingTypeAuction
	} else if data.ListingType == "" {
		listingType = ListingTypeAuction // unspecified treated as auction, validated by caller
	}

	seller := data.Seller.Username
	if seller == "" {
		seller = data.Seller.UserID
	}
	url := data.ItemWebURL
	if url == "" {
		url = fmt.Sprintf("https://www.ebay.com/itm/%s", listingID)
	}

	return &ListingDetails{
		ListingID:    listingID,
		ListingURL:   url,
		ItemTitle:    defaultString(data.Title, "Unknown Item"),
		Seller:       seller,
		CurrentPrice: price,
		Currency:     currency,
		EndTimeUTC:   endTime.UTC(),
		ListingType:  listingType,
	}, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GetDetails implements SPEC_FULL §6.1: primary path is a legacy-id
// lookup, fallback is a canonical-id lookup on 404.
func (c *Client) GetDetails(ctx context.Context, listingID string) (*ListingDetails, error) {
	ctx, span := c.tracer.StartSpan(ctx, "marketclient.get_details", map[string]string{"listing_id": listingID})
	defer span.End()

	if !c.cb.Allow() {
		c.debug.Capture(listingID, "get_details", "error", "circuit_open")
		return nil, &UpstreamError{Op: "get_details", Transient: true, Err: fmt.Errorf("circuit open")}
	}

	start := time.Now()
	details, err := c.getDetailsLegacy(ctx, listingID)
	if err != nil {
		var ue *UpstreamError
		if asUpstream(err, &ue) && ue.StatusCode == http.StatusNotFound {
			log.WithField("listing_id", listingID).Info("getItemByLegacyId returned 404, trying canonical Browse API endpoint")
			details, err = c.getDetailsCanonical(ctx, listingID)
		}
	}
	c.metrics.RecordLatency("get_details", float64(time.Since(start).Milliseconds()))
	if err != nil {
		c.cb.OnFailure()
		c.debug.Capture(listingID, "get_details", "error", err.Error())
		span.SetAttr("outcome", "error")
		return nil, err
	}

	if details.ListingType != ListingTypeAuction {
		c.debug.Capture(listingID, "get_details", "error", "not_auction")
		return nil, fmt.Errorf("marketclient: listing %s is not an auction (type=%s)", listingID, details.ListingType)
	}

	c.cb.OnSuccess()
	c.metrics.RecordOutcome("get_details", "success")
	c.debug.Capture(listingID, "get_details", "success", "")
	span.SetAttr("outcome", "success")
	return details, nil
}

func (c *Client) getDetailsLegacy(ctx context.Context, listingID string) (*ListingDetails, error) {
	u := fmt.Sprintf("%s/buy/browse/v1/item/get_item_by_legacy_id?legacy_item_id=%s", c.baseURL, listingID)
	return c.doBrowseGet(ctx, u, listingID)
}

func (c *Client) getDetailsCanonical(ctx context.Context, listingID string) (*ListingDetails, error) {
	u := fmt.Sprintf("%s/buy/browse/v1/item/%s?fieldgroups=FULL", c.baseURL, listingID)
	return c.doBrowseGet(ctx, u, listingID)
}

func (c *Client) doBrowseGet(ctx context.Context, url, listingID string) (*ListingDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := c.setBrowseHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "get_details", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var item browseItem
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return nil, fmt.Errorf("marketclient: decode get_details response: %w", err)
		}
		return c.parseBrowseItem(listingID, item)
	}
	return nil, classifyHTTPError("get_details", resp)
}

func (c *Client) setBrowseHeaders(ctx context.Context, req *http.Request) error {
	tok, err := c.creds.AppToken(ctx)
	if err != nil {
		return fmt.Errorf("marketclient: app token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	if c.marketID != "" {
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketID)
	}
	return nil
}

// classifyHTTPError turns a non-2xx HTTP response into an UpstreamError,
// marking 429/5xx as transient per SPEC_FULL §7. This is the structured
// replacement named in §9 Open Question 1.
func classifyHTTPError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &UpstreamError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Transient:  transient,
		Err:        fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}

func asUpstream(err error, target **UpstreamError) bool {
	ue, ok := err.(*UpstreamError)
	if ok {
		*target = ue
		return true
	}
	return false
}

// --- PlaceBid (Trading API, XML) ---

type placeOfferRequest struct {
	XMLName              xml.Name `xml:"PlaceOfferRequest"`
	Xmlns                string   `xml:"xmlns,attr"`
	RequesterCredentials struct {
		EBayAuthToken string `xml:"eBayAuthToken"`
	} `xml:"RequesterCredentials"`
	DetailLevel string `xml:"DetailLevel"`
	Version     string `xml:"Version"`
	ItemID      string `xml:"ItemID"`
	Offer       struct {
		MaxBid   string `xml:"MaxBid"`
		Quantity int    `xml:"Quantity"`
	} `xml:"Offer"`
	SiteID int `xml:"SiteID"`
}

type tradingResponse struct {
	XMLName xml.Name `xml:"PlaceOfferResponse"`
	Ack     string   `xml:"Ack"`
	Errors  []struct {
		ErrorCode   string `xml:"ErrorCode"`
		LongMessage string `xml:"LongMessage"`
	} `xml:"Errors"`
}

// PlaceBid implements SPEC_FULL §6.2. The bid window's per-call deadline
// (600ms) is enforced here; the scheduler's retry loop is responsible for
// the attempt cap and interleaved delays (§4.4).
func (c *Client) PlaceBid(ctx context.Context, listingID string, amount decimal.Decimal) error {
	ctx, span := c.tracer.StartSpan(ctx, "marketclient.place_bid", map[string]string{"listing_id": listingID})
	defer span.End()

	if !c.cb.Allow() {
		c.debug.Capture(listingID, "place_bid", "error", "circuit_open")
		return &UpstreamError{Op: "place_bid", Transient: true, Err: fmt.Errorf("circuit open")}
	}

	start := time.Now()
	err := c.doPlaceBid(ctx, listingID, amount)
	c.metrics.RecordLatency("place_bid", float64(time.Since(start).Milliseconds()))
	if err != nil {
		c.cb.OnFailure()
		c.debug.Capture(listingID, "place_bid", "error", err.Error())
		span.SetAttr("outcome", "error")
		return err
	}
	c.cb.OnSuccess()
	c.metrics.RecordOutcome("place_bid", "success")
	c.debug.Capture(listingID, "place_bid", "success", "")
	span.SetAttr("outcome", "success")
	return nil
}

func (c *Client) doPlaceBid(ctx context.Context, listingID string, amount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, 600*time.Millisecond)
	defer cancel()

	userToken, err := c.creds.UserToken(ctx)
	if err != nil {
		return fmt.Errorf("marketclient: user token: %w", err)
	}

	var reqBody placeOfferRequest
	reqBody.Xmlns = "urn:ebay:apis:eBLBaseComponents"
	reqBody.RequesterCredentials.EBayAuthToken = userToken
	reqBody.DetailLevel = "ReturnAll"
	reqBody.Version = "1247"
	reqBody.ItemID = listingID
	reqBody.Offer.MaxBid = amount.StringFixed(2)
	reqBody.Offer.Quantity = 1
	reqBody.SiteID = 0

	payload, err := xml.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marketclient: encode place_bid request: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	u := fmt.Sprintf("%s/ws/api.dll", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-EBAY-SOA-OPERATION-NAME", "PlaceOffer")
	req.Header.Set("X-EBAY-SOA-SERVICE-VERSION", "1247")
	req.Header.Set("X-EBAY-SOA-SECURITY-APPNAME", c.appID)
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Op: "place_bid", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return classifyHTTPError("place_bid", resp)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError("place_bid", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("marketclient: read place_bid response: %w", err)
	}

	var tr tradingResponse
	if err := xml.Unmarshal(body, &tr); err != nil {
		// PARSE_ERROR fallback, ported from _parse_trading_api_response's
		// ET.ParseError handling — never crash on an unparsable response.
		return NewBidErrorFromCode("PARSE_ERROR", fmt.Sprintf("failed to parse Trading API response: %v", err))
	}
	if tr.Ack == "Success" {
		return nil
	}
	code := "UNKNOWN"
	msg := "Unknown error"
	if len(tr.Errors) > 0 {
		if tr.Errors[0].ErrorCode != "" {
			code = tr.Errors[0].ErrorCode
		}
		if tr.Errors[0].LongMessage != "" {
			msg = tr.Errors[0].LongMessage
		}
	}
	return NewBidErrorFromCode(code, msg)
}

// --- GetBidOutcome (Offer API getBidding) ---

type biddingResponse struct {
	AuctionStatus string `json:"auctionStatus"`
	HighBidder    bool   `json:"highBidder"`
	CurrentPrice  struct {
		Value string `json:"value"`
	} `json:"currentPrice"`
}

// GetBidOutcome implements SPEC_FULL §6.3. A 404 means "we never bid /
// unknown" and must leave outcome Pending (Found=false), not error.
func (c *Client) GetBidOutcome(ctx context.Context, listingID string) (*BidOutcome, error) {
	ctx, span := c.tracer.StartSpan(ctx, "marketclient.get_bid_outcome", map[string]string{"listing_id": listingID})
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	u := fmt.Sprintf("%s/buy/offer/v1_beta/bidding/%s", c.baseURL, listingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.setBrowseHeaders(ctx, req); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordLatency("get_bid_outcome", float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.SetAttr("outcome", "error")
		return nil, &UpstreamError{Op: "get_bid_outcome", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		span.SetAttr("outcome", "not_found")
		return &BidOutcome{Found: false, AuctionStatus: AuctionStatusUnknown}, nil
	}
	if resp.StatusCode != http.StatusOK {
		span.SetAttr("outcome", "error")
		return nil, classifyHTTPError("get_bid_outcome", resp)
	}

	var br biddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("marketclient: decode get_bid_outcome response: %w", err)
	}
	price, _ := decimal.NewFromString(defaultString(br.CurrentPrice.Value, "0"))

	status := AuctionStatusActive
	switch strings.ToUpper(br.AuctionStatus) {
	case "ENDED":
		status = AuctionStatusEnded
	case "ACTIVE":
		status = AuctionStatusActive
	}
	span.SetAttr("outcome", "success")
	return &BidOutcome{Found: true, AuctionStatus: status, HighBidder: br.HighBidder, CurrentPrice: price}, nil
}

// GetFinalPrice opportunistically fetches the ended auction's final price
// via the Browse API, used by the reconciler's secondary get-item call
// (SPEC_FULL §4.5) regardless of whether we ever bid on the listing.
func (c *Client) GetFinalPrice(ctx context.Context, listingID string) (decimal.Decimal, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	details, err := c.getDetailsCanonical(ctx, listingID)
	if err != nil || details == nil {
		return decimal.Zero, false
	}
	if time.Now().Before(details.EndTimeUTC) {
		return decimal.Zero, false
	}
	return details.CurrentPrice, true
}
