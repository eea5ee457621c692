// Package ragcache caches retrieval context between the fast and accurate
// response tiers.
//
// The fast tier does the expensive retrieval work (embedding, search, graph
// traversal, context rendering); the accurate tier reuses that work within a
// short TTL instead of repeating it. A cache miss is never an error: the
// accurate tier falls back to recomputing the context.
package ragcache

import (
	"context"
	"sync"
	"time"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

// DefaultTTL is how long a cached bundle stays valid.
const DefaultTTL = 300 * time.Second

// keyPrefix namespaces cache entries in a shared Redis database.
const keyPrefix = "rag_context:"

// Bundle is the retrieval context produced by the fast tier: the matched
// fragments, the related acts, and the rendered context block.
type Bundle struct {
	Results      []index.SearchResult `json:"results"`
	RelatedActs  []index.RelatedAct   `json:"related_acts"`
	LegalContext string               `json:"legal_context"`
	CachedAt     time.Time            `json:"cached_at"`
}

// Cache stores bundles keyed by query ID.
type Cache interface {
	// Put stores the bundle for queryID, replacing any previous one. The
	// entry expires after the cache's TTL.
	Put(ctx context.Context, queryID string, b Bundle) error

	// Get returns the bundle for queryID, or (nil, nil) when the entry is
	// missing or expired.
	Get(ctx context.Context, queryID string) (*Bundle, error)

	// Delete removes the entry for queryID. Deleting a missing entry is not
	// an error.
	Delete(ctx context.Context, queryID string) error
}

// Memory is the in-process fallback Cache used when no Redis address is
// configured. Entries expire lazily on read. Safe for concurrent use.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	bundle    Bundle
	expiresAt time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-process cache. A non-positive ttl means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Put implements [Cache].
func (m *Memory) Put(ctx context.Context, queryID string, b Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[queryID] = memoryEntry{bundle: b, expiresAt: m.now().Add(m.ttl)}
	return nil
}

// Get implements [Cache].
func (m *Memory) Get(ctx context.Context, queryID string) (*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[queryID]
	if !ok {
		return nil, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, queryID)
		return nil, nil
	}
	b := e.bundle
	return &b, nil
}

// Delete implements [Cache].
func (m *Memory) Delete(ctx context.Context, queryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, queryID)
	return nil
}
