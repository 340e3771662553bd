package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ebaysniper/sniper/internal/domain"
)

// PgStore implements Store against Postgres via pgxpool. Schema grounded on
// _examples/original_source/database/models.py: an auctions table carrying
// the status/outcome axes and a bid_attempts table holding at most one row
// per auction_id (enforced by a UNIQUE constraint, not application code).
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore wraps an already-connected pool.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const auctionColumns = `
	id, listing_id, listing_url, item_title, seller,
	current_price, currency, max_bid, end_time_utc, last_refresh_utc,
	status, skip_reason, outcome, final_price, created_at, updated_at`

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	var a domain.Auction
	var lastRefresh sql.NullTime
	var skipReason sql.NullString
	var finalPrice sql.NullString

	err := row.Scan(
		&a.ID, &a.ListingID, &a.ListingURL, &a.ItemTitle, &a.Seller,
		&a.CurrentPrice, &a.Currency, &a.MaxBid, &a.EndTimeUTC, &lastRefresh,
		&a.Status, &skipReason, &a.Outcome, &finalPrice, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastRefresh.Valid {
		t := lastRefresh.Time
		a.LastRefreshUTC = &t
	}
	if skipReason.Valid {
		a.SkipReason = skipReason.String
	}
	if finalPrice.Valid {
		d, err := decimal.NewFromString(finalPrice.String)
		if err != nil {
			return nil, err
		}
		a.FinalPrice = &d
	}
	return &a, nil
}

func (s *PgStore) Create(ctx context.Context, a *domain.Auction) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO auctions (
			listing_id, listing_url, item_title, seller,
			current_price, currency, max_bid, end_time_utc,
			status, outcome, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING id
	`, a.ListingID, a.ListingURL, a.ItemTitle, a.Seller,
		a.CurrentPrice, a.Currency, a.MaxBid, a.EndTimeUTC,
		domain.StatusScheduled, domain.OutcomePending).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PgStore) Get(ctx context.Context, id int64) (*domain.Auction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	return scanAuction(row)
}

func (s *PgStore) GetBidAttempt(ctx context.Context, auctionID int64) (*domain.BidAttempt, error) {
	var a domain.BidAttempt
	var errMsg sql.NullString
	err := s.db.QueryRow(ctx, `
		SELECT auction_id, attempt_time_utc, result, error_message
		FROM bid_attempts WHERE auction_id = $1
	`, auctionID).Scan(&a.AuctionID, &a.AttemptTimeUTC, &a.Result, &errMsg)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if errMsg.Valid {
		a.ErrorMessage = errMsg.String
	}
	return &a, nil
}

func (s *PgStore) List(ctx context.Context) ([]*domain.Auction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+auctionColumns+` FROM auctions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) Active(ctx context.Context) ([]*domain.Auction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status IN ($1, $2)
		ORDER BY end_time_utc ASC
	`, domain.StatusScheduled, domain.StatusExecuting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) NeedsReconciliation(ctx context.Context, now time.Time, settleDelay time.Duration) ([]*domain.Auction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status = $1 AND outcome = $2 AND end_time_utc < $3
		ORDER BY end_time_utc ASC
	`, domain.StatusBidPlaced, domain.OutcomePending, now.Add(-settleDelay))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClaimForExecution is the CAS primitive backing exactly-once execution: the
// UPDATE only succeeds if the row is still Scheduled, so two scheduler ticks
// (or replicas) racing on the same auction only ever let one through.
func (s *PgStore) ClaimForExecution(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, domain.StatusExecuting, id, domain.StatusScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PgStore) ApplyPriceRefresh(ctx context.Context, id int64, update RefreshUpdate, refreshedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET
			current_price = $1, currency = $2, listing_url = $3,
			item_title = $4, seller = $5, end_time_utc = $6,
			last_refresh_utc = $7, updated_at = now()
		WHERE id = $8
	`, update.CurrentPrice, update.Currency, update.ListingURL,
		update.ItemTitle, update.Seller, update.EndTimeUTC,
		refreshedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) RecordBidPlaced(ctx context.Context, id int64, attempt domain.BidAttempt) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, domain.StatusBidPlaced, id, domain.StatusExecuting)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bid_attempts (auction_id, attempt_time_utc, result, error_message)
		VALUES ($1, $2, $3, $4)
	`, id, attempt.AttemptTimeUTC, domain.BidResultSuccess, nullableString(attempt.ErrorMessage)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PgStore) RecordBidFailed(ctx context.Context, id int64, attempt domain.BidAttempt) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, domain.StatusFailed, id, domain.StatusExecuting)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bid_attempts (auction_id, attempt_time_utc, result, error_message)
		VALUES ($1, $2, $3, $4)
	`, id, attempt.AttemptTimeUTC, domain.BidResultFailed, nullableString(attempt.ErrorMessage)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PgStore) RecordSkipped(ctx context.Context, id int64, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET status = $1, skip_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, domain.StatusSkipped, reason, id, domain.StatusScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PgStore) FailScheduled(ctx context.Context, id int64, attempt domain.BidAttempt) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, domain.StatusFailed, id, domain.StatusScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bid_attempts (auction_id, attempt_time_utc, result, error_message)
		VALUES ($1, $2, $3, $4)
	`, id, attempt.AttemptTimeUTC, domain.BidResultFailed, nullableString(attempt.ErrorMessage)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PgStore) Cancel(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, domain.StatusCancelled, id, domain.StatusScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PgStore) RecordOutcome(ctx context.Context, id int64, outcome domain.Outcome, finalPrice *decimal.Decimal) error {
	var price sql.NullString
	if finalPrice != nil {
		price = sql.NullString{String: finalPrice.String(), Valid: true}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET outcome = $1, final_price = $2, updated_at = now()
		WHERE id = $3 AND status = $4 AND outcome = $5
	`, outcome, price, id, domain.StatusBidPlaced, domain.OutcomePending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PgStore) NeedsFinalPriceBackfill(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE end_time_utc < $1 AND final_price IS NULL AND outcome = $2
		ORDER BY end_time_utc ASC
	`, now, domain.OutcomePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) RecordFinalPrice(ctx context.Context, id int64, finalPrice decimal.Decimal) error {
	_, err := s.db.Exec(ctx, `
		UPDATE auctions SET final_price = $1, updated_at = now()
		WHERE id = $2 AND outcome = $3
	`, finalPrice.String(), id, domain.OutcomePending)
	return err
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
