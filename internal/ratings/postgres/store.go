// Package postgres implements the ratings.Store interface on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prawnikgpt/prawnikgpt/internal/ratings"
)

var _ ratings.Store = (*Store)(nil)

// Store persists ratings in the ratings table, one row per
// (query, user, tier). Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection pool and ensures the ratings table
// exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("ratings store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		CREATE TABLE IF NOT EXISTS ratings (
		    query_id   text NOT NULL REFERENCES queries (id) ON DELETE CASCADE,
		    user_id    text NOT NULL,
		    tier       text NOT NULL,
		    value      text NOT NULL,
		    updated_at timestamptz NOT NULL DEFAULT now(),
		    PRIMARY KEY (query_id, user_id, tier)
		)`

	if _, err := pool.Exec(ctx, q); err != nil {
		return err
	}
	return nil
}

// Upsert implements [ratings.Store].
func (s *Store) Upsert(ctx context.Context, r ratings.Rating) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("ratings store: upsert: %w", err)
	}

	const q = `
		INSERT INTO ratings (query_id, user_id, tier, value, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (query_id, user_id, tier) DO UPDATE SET
		    value      = EXCLUDED.value,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, r.QueryID, r.UserID, string(r.Tier), string(r.Value)); err != nil {
		return fmt.Errorf("ratings store: upsert: %w", err)
	}
	return nil
}

// Delete implements [ratings.Store].
func (s *Store) Delete(ctx context.Context, queryID, userID string, tier ratings.Tier) error {
	const q = `DELETE FROM ratings WHERE query_id = $1 AND user_id = $2 AND tier = $3`

	tag, err := s.pool.Exec(ctx, q, queryID, userID, string(tier))
	if err != nil {
		return fmt.Errorf("ratings store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ratings store: delete: %w", ratings.ErrNotFound)
	}
	return nil
}
