package chat

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/swiftramp/swiftramp/internal/pagination"
)

// PostgresStore persists chat messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed chat store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const messageColumns = `id, trade_id, sender_id, role, type, body, created_at`

func (p *PostgresStore) Append(ctx context.Context, m *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, trade_id, sender_id, role, type, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.TradeID, m.SenderID, m.Role, m.Type, m.Body, m.CreatedAt,
	)
	// Replayed message IDs are idempotent, matching the memory store.
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return nil
	}
	return err
}

func (p *PostgresStore) ListSince(ctx context.Context, tradeID string, after *pagination.Cursor, limit int) ([]*Message, error) {
	var rows *sql.Rows
	var err error
	if after != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM chat_messages
			WHERE trade_id = $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at ASC, id ASC
			LIMIT $4`, tradeID, after.CreatedAt, after.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM chat_messages
			WHERE trade_id = $1
			ORDER BY created_at ASC, id ASC
			LIMIT $2`, tradeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.TradeID, &m.SenderID, &m.Role, &m.Type, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
