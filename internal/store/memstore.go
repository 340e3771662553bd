package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/domain"
)

// MemStore is an in-memory Store used by scheduler/reconciler/API tests, in
// the teacher's plain-struct test-double style (no mocking framework).
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Auction
	bids   map[int64]*domain.BidAttempt
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[int64]*domain.Auction), bids: make(map[int64]*domain.BidAttempt)}
}

func clone(a *domain.Auction) *domain.Auction {
	cp := *a
	if a.LastRefreshUTC != nil {
		t := *a.LastRefreshUTC
		cp.LastRefreshUTC = &t
	}
	if a.FinalPrice != nil {
		p := *a.FinalPrice
		cp.FinalPrice = &p
	}
	return &cp
}

func (s *MemStore) Create(ctx context.Context, a *domain.Auction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	now := time.Now().UTC()

	stored := clone(a)
	stored.ID = id
	stored.Status = domain.StatusScheduled
	stored.Outcome = domain.OutcomePending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rows[id] = stored
	return id, nil
}

func (s *MemStore) Get(ctx context.Context, id int64) (*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (s *MemStore) GetBidAttempt(ctx context.Context, auctionID int64) (*domain.BidAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemStore) List(ctx context.Context) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Auction, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) Active(ctx context.Context) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Auction
	for _, a := range s.rows {
		if a.Status == domain.StatusScheduled || a.Status == domain.StatusExecuting {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTimeUTC.Before(out[j].EndTimeUTC) })
	return out, nil
}

func (s *MemStore) NeedsReconciliation(ctx context.Context, now time.Time, settleDelay time.Duration) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Auction
	for _, a := range s.rows {
		if domain.CanReconcile(a, now, settleDelay) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTimeUTC.Before(out[j].EndTimeUTC) })
	return out, nil
}

func (s *MemStore) ClaimForExecution(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusScheduled {
		return ErrConflict
	}
	a.Status = domain.StatusExecuting
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) ApplyPriceRefresh(ctx context.Context, id int64, update RefreshUpdate, refreshedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	a.CurrentPrice = update.CurrentPrice
	a.Currency = update.Currency
	a.ListingURL = update.ListingURL
	a.ItemTitle = update.ItemTitle
	a.Seller = update.Seller
	a.EndTimeUTC = update.EndTimeUTC
	t := refreshedAt
	a.LastRefreshUTC = &t
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) RecordBidPlaced(ctx context.Context, id int64, attempt domain.BidAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusExecuting {
		return ErrConflict
	}
	a.Status = domain.StatusBidPlaced
	a.UpdatedAt = time.Now().UTC()
	cp := attempt
	s.bids[id] = &cp
	return nil
}

func (s *MemStore) RecordBidFailed(ctx context.Context, id int64, attempt domain.BidAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusExecuting {
		return ErrConflict
	}
	a.Status = domain.StatusFailed
	a.UpdatedAt = time.Now().UTC()
	cp := attempt
	s.bids[id] = &cp
	return nil
}

func (s *MemStore) RecordSkipped(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusScheduled {
		return ErrConflict
	}
	a.Status = domain.StatusSkipped
	a.SkipReason = reason
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) FailScheduled(ctx context.Context, id int64, attempt domain.BidAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusScheduled {
		return ErrConflict
	}
	a.Status = domain.StatusFailed
	a.UpdatedAt = time.Now().UTC()
	cp := attempt
	s.bids[id] = &cp
	return nil
}

func (s *MemStore) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusScheduled {
		return ErrConflict
	}
	a.Status = domain.StatusCancelled
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) RecordOutcome(ctx context.Context, id int64, outcome domain.Outcome, finalPrice *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != domain.StatusBidPlaced || a.Outcome != domain.OutcomePending {
		return ErrConflict
	}
	a.Outcome = outcome
	if finalPrice != nil {
		p := *finalPrice
		a.FinalPrice = &p
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) NeedsFinalPriceBackfill(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Auction
	for _, a := range s.rows {
		if a.Outcome == domain.OutcomePending && a.FinalPrice == nil && a.EndTimeUTC.Before(now) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTimeUTC.Before(out[j].EndTimeUTC) })
	return out, nil
}

func (s *MemStore) RecordFinalPrice(ctx context.Context, id int64, finalPrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if a.Outcome != domain.OutcomePending {
		return nil
	}
	p := finalPrice
	a.FinalPrice = &p
	a.UpdatedAt = time.Now().UTC()
	return nil
}
