package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

// Search implements [index.Index]. It finds the fragments whose embeddings
// are closest (cosine distance) to the query embedding, denormalized with the
// owning act's summary, most similar first. Fragments at or beyond the
// distance threshold are excluded; fewer survivors than the configured
// minimum fails with [index.ErrNoRelevantActs].
func (s *Store) Search(ctx context.Context, embedding []float32, opts ...index.SearchOption) ([]index.SearchResult, error) {
	cfg := index.ApplySearchOpts(opts)

	normalized, err := index.NormalizeEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("index store: search: %w", err)
	}
	queryVec := pgvector.NewVector(normalized)

	q := `
		SELECT c.id, c.act_id, a.title, a.publisher, a.year, a.position, a.status,
		       c.chunk_index, c.content,
		       c.embedding <=> $1 AS distance
		FROM   chunks c
		JOIN   acts   a ON a.id = c.act_id
		WHERE  c.embedding IS NOT NULL
		  AND  c.embedding <=> $1 < $2`
	args := []any{queryVec, cfg.Threshold}
	if len(cfg.ActIDs) > 0 {
		q += `
		  AND  c.act_id = ANY($3)`
		args = append(args, cfg.ActIDs)
	}
	q += fmt.Sprintf(`
		ORDER  BY distance
		LIMIT  $%d`, len(args)+1)
	args = append(args, cfg.TopK)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (index.SearchResult, error) {
		var (
			sr       index.SearchResult
			status   string
			distance float64
		)
		if err := row.Scan(
			&sr.ChunkID,
			&sr.ActID,
			&sr.ActTitle,
			&sr.ActPublisher,
			&sr.ActYear,
			&sr.ActPosition,
			&status,
			&sr.ChunkIndex,
			&sr.Content,
			&distance,
		); err != nil {
			return index.SearchResult{}, err
		}
		sr.ActStatus = index.ActStatus(status)
		sr.Similarity = 1.0 - distance
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("index store: search: scan rows: %w", err)
	}

	if len(results) < cfg.MinResults {
		return nil, fmt.Errorf("index store: search: %d of %d required fragments matched: %w",
			len(results), cfg.MinResults, index.ErrNoRelevantActs)
	}
	return results, nil
}
