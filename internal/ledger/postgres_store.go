package ledger

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, account_id, currency, type, amount,
		       idempotency_key, reference, description, created_at`

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, account_id, currency, type, amount,
			idempotency_key, reference, description, created_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(24,8), $6, $7, $8, $9)`,
		e.ID, e.AccountID, e.Currency, e.Type, e.Amount,
		nullString(e.IdempotencyKey), nullString(e.Reference), nullString(e.Description),
		e.CreatedAt,
	)
	// Unique index on idempotency_key turns retries into ErrDuplicateEntry.
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateEntry
	}
	return err
}

func (p *PostgresStore) GetBalance(ctx context.Context, accountID, currency string) (*Balance, error) {
	bal := &Balance{AccountID: accountID, Currency: currency}
	var updatedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0),
			COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'debit' THEN amount ELSE 0 END), 0),
			MAX(created_at)
		FROM ledger_entries
		WHERE account_id = $1 AND currency = $2`,
		accountID, currency,
	).Scan(&bal.Available, &bal.TotalIn, &bal.TotalOut, &updatedAt)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		bal.UpdatedAt = updatedAt.Time
	}
	return bal, nil
}

func (p *PostgresStore) GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var key, ref, desc sql.NullString
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Currency, &e.Type, &e.Amount,
			&key, &ref, &desc, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.IdempotencyKey = key.String
		e.Reference = ref.String
		e.Description = desc.String
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) HasKey(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)`,
		idempotencyKey,
	).Scan(&exists)
	return exists, err
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
