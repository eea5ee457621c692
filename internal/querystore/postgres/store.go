// Package postgres implements the querystore.Store interface on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prawnikgpt/prawnikgpt/internal/assembler"
	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
)

var _ querystore.Store = (*Store)(nil)

// Store persists query records in the queries table. Both response tiers live
// on the same row; the accurate columns can only be filled after the fast
// ones. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection pool and ensures the queries table
// exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("query store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		CREATE TABLE IF NOT EXISTS queries (
		    id                   text PRIMARY KEY,
		    user_id              text NOT NULL,
		    question             text NOT NULL,
		    created_at           timestamptz NOT NULL DEFAULT now(),

		    fast_content         text,
		    fast_sources         jsonb,
		    fast_model           text,
		    fast_generation_ms   integer,
		    fast_created_at      timestamptz,

		    accurate_content     text,
		    accurate_model       text,
		    accurate_generation_ms integer,
		    accurate_created_at  timestamptz
		);
		CREATE INDEX IF NOT EXISTS queries_user_created_idx
		    ON queries (user_id, created_at DESC)`

	if _, err := pool.Exec(ctx, q); err != nil {
		return err
	}
	return nil
}

// Create implements [querystore.Store].
func (s *Store) Create(ctx context.Context, userID, question string) (*querystore.QueryRecord, error) {
	question, err := querystore.NormalizeQuestion(question)
	if err != nil {
		return nil, fmt.Errorf("query store: create: %w", err)
	}

	rec := querystore.QueryRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Question:  question,
		CreatedAt: time.Now().UTC(),
	}

	const q = `
		INSERT INTO queries (id, user_id, question, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, rec.ID, rec.UserID, rec.Question, rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("query store: create: %w", err)
	}
	return &rec, nil
}

const recordColumns = `
	id, user_id, question, created_at,
	fast_content, fast_sources, fast_model, fast_generation_ms, fast_created_at,
	accurate_content, accurate_model, accurate_generation_ms, accurate_created_at`

// GetByID implements [querystore.Store].
func (s *Store) GetByID(ctx context.Context, id string) (*querystore.QueryRecord, error) {
	q := "SELECT " + recordColumns + "\nFROM queries\nWHERE id = $1"

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("query store: get %s: %w", id, err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("query store: get %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("query store: get %s: %w", id, querystore.ErrNotFound)
	}
	return &records[0], nil
}

// ListByUser implements [querystore.Store].
func (s *Store) ListByUser(ctx context.Context, userID string, opts querystore.ListOptions) ([]querystore.QueryRecord, int, error) {
	opts = opts.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM queries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("query store: list for %s: count: %w", userID, err)
	}

	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}
	q := fmt.Sprintf("SELECT %s\nFROM queries\nWHERE user_id = $1\nORDER BY created_at %s\nLIMIT $2 OFFSET $3",
		recordColumns, direction)

	rows, err := s.pool.Query(ctx, q, userID, opts.PerPage, (opts.Page-1)*opts.PerPage)
	if err != nil {
		return nil, 0, fmt.Errorf("query store: list for %s: %w", userID, err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("query store: list for %s: %w", userID, err)
	}
	return records, total, nil
}

// UpdateFast implements [querystore.Store].
func (s *Store) UpdateFast(ctx context.Context, id string, resp querystore.FastResponse) error {
	sourcesJSON, err := json.Marshal(resp.Sources)
	if err != nil {
		return fmt.Errorf("query store: marshal sources: %w", err)
	}
	createdAt := resp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		UPDATE queries
		SET    fast_content       = $2,
		       fast_sources       = $3,
		       fast_model         = $4,
		       fast_generation_ms = $5,
		       fast_created_at    = $6
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, resp.Content, sourcesJSON, resp.ModelName, resp.GenerationTimeMs, createdAt)
	if err != nil {
		return fmt.Errorf("query store: update fast %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query store: update fast %s: %w", id, querystore.ErrNotFound)
	}
	return nil
}

// UpdateAccurate implements [querystore.Store]. The WHERE clause enforces the
// fast-before-accurate invariant at the database level.
func (s *Store) UpdateAccurate(ctx context.Context, id string, resp querystore.AccurateResponse) error {
	createdAt := resp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		UPDATE queries
		SET    accurate_content       = $2,
		       accurate_model         = $3,
		       accurate_generation_ms = $4,
		       accurate_created_at    = $5
		WHERE  id = $1
		  AND  fast_content IS NOT NULL`

	tag, err := s.pool.Exec(ctx, q, id, resp.Content, resp.ModelName, resp.GenerationTimeMs, createdAt)
	if err != nil {
		return fmt.Errorf("query store: update accurate %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing record from one whose fast slot is empty.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("query store: update accurate %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("query store: update accurate %s: %w", id, querystore.ErrNotFound)
	}
	return fmt.Errorf("query store: update accurate %s: %w", id, querystore.ErrFastMissing)
}

// Delete implements [querystore.Store]. Ratings reference queries with ON
// DELETE CASCADE, so they disappear with the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("query store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query store: delete %s: %w", id, querystore.ErrNotFound)
	}
	return nil
}

// collectRecords scans pgx rows into query records, folding the nullable
// response columns into the optional tier structs.
func collectRecords(rows pgx.Rows) ([]querystore.QueryRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (querystore.QueryRecord, error) {
		var (
			rec querystore.QueryRecord

			fastContent *string
			fastSources []byte
			fastModel   *string
			fastGenMs   *int
			fastAt      *time.Time

			accContent *string
			accModel   *string
			accGenMs   *int
			accAt      *time.Time
		)
		if err := row.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Question,
			&rec.CreatedAt,
			&fastContent,
			&fastSources,
			&fastModel,
			&fastGenMs,
			&fastAt,
			&accContent,
			&accModel,
			&accGenMs,
			&accAt,
		); err != nil {
			return querystore.QueryRecord{}, err
		}

		if fastContent != nil {
			fast := querystore.FastResponse{Content: *fastContent}
			if len(fastSources) > 0 {
				if err := json.Unmarshal(fastSources, &fast.Sources); err != nil {
					return querystore.QueryRecord{}, fmt.Errorf("unmarshal sources: %w", err)
				}
			}
			if fast.Sources == nil {
				fast.Sources = []assembler.Source{}
			}
			if fastModel != nil {
				fast.ModelName = *fastModel
			}
			if fastGenMs != nil {
				fast.GenerationTimeMs = *fastGenMs
			}
			if fastAt != nil {
				fast.CreatedAt = *fastAt
			}
			rec.Fast = &fast
		}

		if accContent != nil {
			acc := querystore.AccurateResponse{Content: *accContent}
			if accModel != nil {
				acc.ModelName = *accModel
			}
			if accGenMs != nil {
				acc.GenerationTimeMs = *accGenMs
			}
			if accAt != nil {
				acc.CreatedAt = *accAt
			}
			rec.Accurate = &acc
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []querystore.QueryRecord{}
	}
	return records, nil
}
