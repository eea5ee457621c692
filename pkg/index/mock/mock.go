// Package mock provides a recording test double for the index.Index interface.
package mock

import (
	"context"
	"sync"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

// Call records one method invocation on the index.
type Call struct {
	Method string
	Args   map[string]any
}

// Index is a configurable index.Index double. Set the *Result / *Err fields
// before use; every invocation is recorded. Safe for concurrent use.
type Index struct {
	mu    sync.Mutex
	calls []Call

	SearchResult []index.SearchResult
	SearchErr    error

	RelatedResult []index.RelatedAct
	RelatedErr    error
}

var _ index.Index = (*Index)(nil)

func (m *Index) record(method string, args map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of every recorded invocation in order.
func (m *Index) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was invoked.
func (m *Index) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Index) Search(ctx context.Context, embedding []float32, opts ...index.SearchOption) ([]index.SearchResult, error) {
	m.record("Search", map[string]any{"dims": len(embedding), "config": index.ApplySearchOpts(opts)})
	return m.SearchResult, m.SearchErr
}

func (m *Index) RelatedActs(ctx context.Context, actIDs []string, depth int, kinds []index.RelationKind) ([]index.RelatedAct, error) {
	m.record("RelatedActs", map[string]any{"actIDs": actIDs, "depth": depth, "kinds": kinds})
	if len(actIDs) == 0 {
		return nil, index.ErrNoSeedActs
	}
	return m.RelatedResult, m.RelatedErr
}
