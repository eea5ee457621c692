package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

// RelatedActs implements [index.Index]. It performs a breadth-first traversal
// of the act_relations edge table from actIDs up to depth hops using a
// PostgreSQL recursive CTE, following edges in both directions.
//
// Cycles are prevented by tracking visited act IDs in a text array per path.
// Each reachable act is reported once at its minimal depth, carrying the
// relation kind of one minimal-depth path; the seed acts are excluded even
// when they are reachable from each other.
func (s *Store) RelatedActs(ctx context.Context, actIDs []string, depth int, kinds []index.RelationKind) ([]index.RelatedAct, error) {
	if err := index.ValidateDepth(depth); err != nil {
		return nil, fmt.Errorf("index store: related acts: %w", err)
	}
	if len(actIDs) == 0 {
		return nil, fmt.Errorf("index store: related acts: %w", index.ErrNoSeedActs)
	}
	if len(kinds) == 0 {
		kinds = index.AllRelationKinds
	}
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	// The edge is undirected for traversal purposes: the neighbor is whichever
	// endpoint is not the current act.
	const q = `
		WITH RECURSIVE related AS (
		    SELECT id,
		           ARRAY[id]  AS visited,
		           0          AS depth,
		           ''         AS kind
		    FROM   acts
		    WHERE  id = ANY($1::text[])

		    UNION ALL

		    SELECT CASE WHEN rel.source_id = r.id THEN rel.target_id ELSE rel.source_id END,
		           r.visited || CASE WHEN rel.source_id = r.id THEN rel.target_id ELSE rel.source_id END,
		           r.depth + 1,
		           rel.kind
		    FROM   related r
		    JOIN   act_relations rel ON rel.source_id = r.id OR rel.target_id = r.id
		    WHERE  r.depth < $2
		      AND  rel.kind = ANY($3::text[])
		      AND  NOT (CASE WHEN rel.source_id = r.id THEN rel.target_id ELSE rel.source_id END = ANY(r.visited))
		)
		SELECT id, title, publisher, year, position, status, kind, depth
		FROM (
		    SELECT DISTINCT ON (rc.id)
		           a.id, a.title, a.publisher, a.year, a.position, a.status, rc.kind, rc.depth
		    FROM   related rc
		    JOIN   acts    a ON a.id = rc.id
		    WHERE  rc.depth > 0
		      AND  NOT (a.id = ANY($1::text[]))
		    ORDER  BY rc.id, rc.depth
		) dedup
		ORDER  BY depth, title`

	rows, err := s.pool.Query(ctx, q, actIDs, depth, kindStrs)
	if err != nil {
		return nil, fmt.Errorf("index store: related acts: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (index.RelatedAct, error) {
		var (
			ra     index.RelatedAct
			status string
			kind   string
		)
		if err := row.Scan(&ra.ActID, &ra.Title, &ra.Publisher, &ra.Year, &ra.Position, &status, &kind, &ra.Depth); err != nil {
			return index.RelatedAct{}, err
		}
		ra.Status = index.ActStatus(status)
		ra.Kind = index.RelationKind(kind)
		return ra, nil
	})
	if err != nil {
		return nil, fmt.Errorf("index store: related acts: scan rows: %w", err)
	}
	if result == nil {
		result = []index.RelatedAct{}
	}
	return result, nil
}
