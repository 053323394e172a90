package admins

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists admin profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed admin store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const adminColumns = `id, display_name, region, rolling_rating, rating_count,
		       avg_response_seconds, response_count, current_load, max_load,
		       last_heartbeat, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Profile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO admins (
			id, display_name, region, rolling_rating, rating_count,
			avg_response_seconds, response_count, current_load, max_load,
			last_heartbeat, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.DisplayName, string(a.Region), a.RollingRating, a.RatingCount,
		a.AvgResponseSeconds, a.ResponseCount, a.CurrentLoad, a.MaxLoad,
		nullTime(heartbeatPtr(a.LastHeartbeat)), a.CreatedAt, a.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrAdminExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)

	a, err := scanAdmin(row)
	if err == sql.ErrNoRows {
		return nil, ErrAdminNotFound
	}
	return a, err
}

func (p *PostgresStore) Update(ctx context.Context, a *Profile) error {
	// current_load is owned by CompareAndSwapLoad and deliberately not
	// written here, so rating/response updates cannot clobber a
	// concurrent assignment.
	result, err := p.db.ExecContext(ctx, `
		UPDATE admins SET
			display_name = $1, region = $2,
			rolling_rating = $3, rating_count = $4,
			avg_response_seconds = $5, response_count = $6,
			max_load = $7, updated_at = $8
		WHERE id = $9`,
		a.DisplayName, string(a.Region),
		a.RollingRating, a.RatingCount,
		a.AvgResponseSeconds, a.ResponseCount,
		a.MaxLoad, a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAdminNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Profile, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+adminColumns+`
		FROM admins
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Profile
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Heartbeat(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE admins SET last_heartbeat = $1, updated_at = $1 WHERE id = $2`,
		at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAdminNotFound
	}
	return nil
}

func (p *PostgresStore) CompareAndSwapLoad(ctx context.Context, id string, expected, next int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE admins SET current_load = $1 WHERE id = $2 AND current_load = $3`,
		next, id, expected)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM admins WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAdminNotFound
		}
		return ErrLoadConflict
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAdmin(s scanner) (*Profile, error) {
	a := &Profile{}
	var (
		region        string
		lastHeartbeat sql.NullTime
	)

	err := s.Scan(
		&a.ID, &a.DisplayName, &region, &a.RollingRating, &a.RatingCount,
		&a.AvgResponseSeconds, &a.ResponseCount, &a.CurrentLoad, &a.MaxLoad,
		&lastHeartbeat, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Region = Region(region)
	if lastHeartbeat.Valid {
		a.LastHeartbeat = lastHeartbeat.Time
	}
	return a, nil
}

func heartbeatPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
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
