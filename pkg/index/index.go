// Package index defines the retrieval layer over the legal corpus: semantic
// search across act fragments and traversal of the relation graph between
// acts.
//
// The corpus itself (acts, their fragment chunks with embeddings, and the
// directed relations between acts) is reference data maintained by a separate
// ingestion process. This package only reads it.
package index

import (
	"context"
	"errors"
	"fmt"
)

// Embedding dimensions accepted by Search. The vector column is Dim wide;
// CompactDim vectors from smaller embedding models are zero padded up to Dim
// before querying.
const (
	Dim        = 1024
	CompactDim = 768
)

// Search tuning defaults.
const (
	DefaultTopK      = 10
	DefaultThreshold = 0.5
	MinResults       = 3
	MaxDepth         = 2
)

// ErrNoRelevantActs indicates the search matched fewer fragments than the
// relevance floor requires. It is a domain outcome, not a failure: the corpus
// holds nothing useful for this question and the caller must refuse to answer
// rather than hallucinate.
var ErrNoRelevantActs = errors.New("no relevant acts found")

// ErrNoSeedActs indicates a relation traversal was requested without any seed
// acts. That is a caller bug, not an empty result.
var ErrNoSeedActs = errors.New("no seed acts for relation traversal")

// ActStatus is the legal force state of an act.
type ActStatus string

const (
	StatusInForce  ActStatus = "in-force"
	StatusRepealed ActStatus = "repealed"
	StatusReplaced ActStatus = "replaced"
)

// RelationKind classifies a directed edge between two legal acts.
type RelationKind string

const (
	KindModifies   RelationKind = "modifies"
	KindRepeals    RelationKind = "repeals"
	KindImplements RelationKind = "implements"
	KindBasedOn    RelationKind = "based_on"
	KindAmends     RelationKind = "amends"
)

// AllRelationKinds lists every known relation kind, the default traversal
// filter.
var AllRelationKinds = []RelationKind{
	KindModifies, KindRepeals, KindImplements, KindBasedOn, KindAmends,
}

// SearchResult is one fragment matched by semantic search, denormalized with
// the summary of the act it belongs to.
type SearchResult struct {
	ChunkID      string
	ActID        string
	ActTitle     string
	ActPublisher string
	ActYear      int
	ActPosition  int
	ActStatus    ActStatus
	ChunkIndex   int
	Content      string

	// Similarity is 1 - cosine distance; higher is better.
	Similarity float64
}

// RelatedAct is one act reached by traversing the relation graph from the
// search hits.
type RelatedAct struct {
	ActID     string
	Title     string
	Publisher string
	Year      int
	Position  int
	Status    ActStatus

	// Kind is the relation on a minimal-depth path to this act.
	Kind RelationKind

	// Depth is the smallest number of hops from any seed act.
	Depth int
}

// SearchOption adjusts search tuning away from the defaults.
type SearchOption func(*SearchConfig)

// SearchConfig holds the resolved search tuning. Exposed so implementations
// outside this package can apply the options.
type SearchConfig struct {
	TopK       int
	Threshold  float64
	MinResults int

	// ActIDs restricts matches to fragments of the listed acts. Empty means
	// the whole corpus.
	ActIDs []string
}

// WithTopK caps the number of returned fragments.
func WithTopK(k int) SearchOption {
	return func(c *SearchConfig) {
		if k > 0 {
			c.TopK = k
		}
	}
}

// WithThreshold sets the maximum cosine distance a fragment may have to count
// as relevant. Cosine distance ranges 0..2: zero lets nothing through, two
// lets everything through. Values outside the domain keep the default.
func WithThreshold(t float64) SearchOption {
	return func(c *SearchConfig) {
		if t >= 0 && t <= 2 {
			c.Threshold = t
		}
	}
}

// WithMinResults sets the relevance floor below which Search reports
// ErrNoRelevantActs.
func WithMinResults(n int) SearchOption {
	return func(c *SearchConfig) {
		if n > 0 {
			c.MinResults = n
		}
	}
}

// WithActFilter restricts search to fragments belonging to the given acts.
func WithActFilter(actIDs []string) SearchOption {
	return func(c *SearchConfig) {
		c.ActIDs = actIDs
	}
}

// ApplySearchOpts resolves opts over the package defaults.
func ApplySearchOpts(opts []SearchOption) SearchConfig {
	cfg := SearchConfig{
		TopK:       DefaultTopK,
		Threshold:  DefaultThreshold,
		MinResults: MinResults,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// Index is the retrieval interface over the legal corpus.
type Index interface {
	// Search returns the fragments closest to embedding, most similar first.
	// The embedding must be CompactDim or Dim wide; CompactDim vectors are
	// zero padded. Fails with ErrNoRelevantActs when fewer than the
	// configured minimum of fragments pass the distance threshold.
	Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]SearchResult, error)

	// RelatedActs traverses the relation graph outward from actIDs up to
	// depth hops (1 or 2), following edges in both directions and skipping
	// cycles. Each reachable act appears once, at its minimal depth; the seed
	// acts themselves are excluded. An empty kinds filter means all kinds;
	// an empty actIDs list fails with ErrNoSeedActs.
	RelatedActs(ctx context.Context, actIDs []string, depth int, kinds []RelationKind) ([]RelatedAct, error)
}

// NormalizeEmbedding validates the dimensionality of vec and zero pads
// CompactDim vectors up to Dim. The returned slice is always Dim wide; vec is
// never mutated.
func NormalizeEmbedding(vec []float32) ([]float32, error) {
	switch len(vec) {
	case Dim:
		return vec, nil
	case CompactDim:
		padded := make([]float32, Dim)
		copy(padded, vec)
		return padded, nil
	default:
		return nil, fmt.Errorf("index: embedding has %d dimensions, want %d or %d", len(vec), CompactDim, Dim)
	}
}

// ValidateDepth checks a traversal depth against the allowed range.
func ValidateDepth(depth int) error {
	if depth < 1 || depth > MaxDepth {
		return fmt.Errorf("index: traversal depth %d out of range [1,%d]", depth, MaxDepth)
	}
	return nil
}
