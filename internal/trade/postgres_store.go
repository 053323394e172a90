package trade

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists trade data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trade store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tradeColumns = `id, user_id, admin_id, direction, asset, fiat_currency,
		       crypto_amount, fiat_amount, rate, rate_stale,
		       status, payment_ref, proof_ref, dispute_reason, resolution,
		       expires_at, frozen_remaining_seconds,
		       assigned_at, admin_responded_at, resolved_at,
		       rating_score, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Trade) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, admin_id, direction, asset, fiat_currency,
			crypto_amount, fiat_amount, rate, rate_stale,
			status, payment_ref, proof_ref, dispute_reason, resolution,
			expires_at, frozen_remaining_seconds,
			assigned_at, admin_responded_at, resolved_at,
			rating_score, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::NUMERIC(24,8), $8::NUMERIC(20,2), $9::NUMERIC(24,8), $10,
			$11, $12, $13, $14, $15,
			$16, $17,
			$18, $19, $20,
			$21, $22, $23
		)`,
		t.ID, t.UserID, nullString(t.AdminID), t.Direction, t.Asset, t.FiatCurrency,
		t.CryptoAmount, t.FiatAmount, t.Rate, t.RateStale,
		string(t.Status), nullString(t.PaymentRef), nullString(t.ProofRef),
		nullString(t.DisputeReason), nullString(t.Resolution),
		t.ExpiresAt, t.FrozenRemaining.Seconds(),
		nullTime(t.AssignedAt), nullTime(t.AdminRespondedAt), nullTime(t.ResolvedAt),
		t.RatingScore, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Trade, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)

	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Trade) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE trades SET
			admin_id = $1, status = $2,
			payment_ref = $3, proof_ref = $4,
			dispute_reason = $5, resolution = $6,
			expires_at = $7, frozen_remaining_seconds = $8,
			assigned_at = $9, admin_responded_at = $10, resolved_at = $11,
			rating_score = $12, updated_at = $13
		WHERE id = $14`,
		nullString(t.AdminID), string(t.Status),
		nullString(t.PaymentRef), nullString(t.ProofRef),
		nullString(t.DisputeReason), nullString(t.Resolution),
		t.ExpiresAt, t.FrozenRemaining.Seconds(),
		nullTime(t.AssignedAt), nullTime(t.AdminRespondedAt), nullTime(t.ResolvedAt),
		t.RatingScore, t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

func (p *PostgresStore) ListByAdmin(ctx context.Context, adminID string, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE admin_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, adminID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status IN ('created', 'assigned', 'awaiting_payment_proof')
		  AND expires_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*Trade, error) {
	t := &Trade{}
	var (
		adminID          sql.NullString
		status           string
		paymentRef       sql.NullString
		proofRef         sql.NullString
		disputeReason    sql.NullString
		resolution       sql.NullString
		frozenSeconds    float64
		assignedAt       sql.NullTime
		adminRespondedAt sql.NullTime
		resolvedAt       sql.NullTime
	)

	err := s.Scan(
		&t.ID, &t.UserID, &adminID, &t.Direction, &t.Asset, &t.FiatCurrency,
		&t.CryptoAmount, &t.FiatAmount, &t.Rate, &t.RateStale,
		&status, &paymentRef, &proofRef, &disputeReason, &resolution,
		&t.ExpiresAt, &frozenSeconds,
		&assignedAt, &adminRespondedAt, &resolvedAt,
		&t.RatingScore, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.AdminID = adminID.String
	t.Status = Status(status)
	t.PaymentRef = paymentRef.String
	t.ProofRef = proofRef.String
	t.DisputeReason = disputeReason.String
	t.Resolution = resolution.String
	t.FrozenRemaining = time.Duration(frozenSeconds * float64(time.Second))
	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}
	if adminRespondedAt.Valid {
		t.AdminRespondedAt = &adminRespondedAt.Time
	}
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}

	return t, nil
}

func scanTrades(rows *sql.Rows) ([]*Trade, error) {
	var result []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
