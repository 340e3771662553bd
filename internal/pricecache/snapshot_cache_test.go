package pricecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestSnapshotCache(t *testing.T) *SnapshotCache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSnapshotCache(client, time.Minute)
}

func TestSnapshotCache_MissWhenEmpty(t *testing.T) {
	c := newTestSnapshotCache(t)
	_, ok := c.Get(context.Background(), "123")
	if ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestSnapshotCache_SetThenGetRoundTrips(t *testing.T) {
	c := newTestSnapshotCache(t)
	snap := PriceSnapshot{
		ListingID:      "123",
		CurrentPrice:   decimal.RequireFromString("19.99"),
		Currency:       "USD",
		LastRefreshUTC: time.Now().UTC().Truncate(time.Second),
	}
	c.Set(context.Background(), snap)

	got, ok := c.Get(context.Background(), "123")
	if !ok {
		t.Fatalf("expected a hit after Set")
	}
	if !got.CurrentPrice.Equal(snap.CurrentPrice) {
		t.Fatalf("got price %s, want %s", got.CurrentPrice, snap.CurrentPrice)
	}
}

func TestSnapshotCache_InvalidateRemovesEntry(t *testing.T) {
	c := newTestSnapshotCache(t)
	snap := PriceSnapshot{ListingID: "123", CurrentPrice: decimal.RequireFromString("5.00"), Currency: "USD"}
	c.Set(context.Background(), snap)
	c.Invalidate(context.Background(), "123")

	_, ok := c.Get(context.Background(), "123")
	if ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestSnapshotCache_NilClientIsSafeNoop(t *testing.T) {
	var c *SnapshotCache
	if _, ok := c.Get(context.Background(), "1"); ok {
		t.Fatalf("expected nil cache to always miss")
	}
	c.Set(context.Background(), PriceSnapshot{ListingID: "1"})
	c.Invalidate(context.Background(), "1")
}

func TestSnapshotCache_DisabledClientIsSafeNoop(t *testing.T) {
	c := NewSnapshotCache(nil, time.Minute)
	if _, ok := c.Get(context.Background(), "1"); ok {
		t.Fatalf("expected disabled cache to always miss")
	}
	c.Set(context.Background(), PriceSnapshot{ListingID: "1"})
}
