// Package postgres implements the index.Index interface on PostgreSQL with
// the pgvector extension.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

var _ index.Index = (*Store)(nil)

// Store reads the legal corpus from a single PostgreSQL database: the acts
// table, the chunks table with its pgvector column, and the act_relations
// edge table. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and verifies the corpus tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("index store: parse dsn: %w", err)
	}

	// Vector columns scan into and insert from pgvector.Vector values only
	// when the types are registered per connection.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("index store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index store: ping: %w", err)
	}

	if err := verifyCorpus(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// verifyCorpus checks that the reference tables this store reads are present.
// The corpus is owned by the ingestion process; this service never creates or
// alters it.
func verifyCorpus(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		SELECT count(*)
		FROM   information_schema.tables
		WHERE  table_name IN ('acts', 'chunks', 'act_relations')`

	var n int
	if err := pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return fmt.Errorf("verify corpus tables: %w", err)
	}
	if n != 3 {
		return fmt.Errorf("corpus tables missing: found %d of 3 (acts, chunks, act_relations)", n)
	}
	return nil
}

// Pool exposes the underlying connection pool so that the query and rating
// stores can share it.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping reports database reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("index store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}
