// Package mock provides an in-memory recording double for the ratings.Store
// interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/prawnikgpt/prawnikgpt/internal/ratings"
)

// Call records one method invocation on the store.
type Call struct {
	Method string
	Args   map[string]any
}

type key struct {
	queryID string
	userID  string
	tier    ratings.Tier
}

// Store is an in-memory ratings.Store honoring the real store's invariants.
// Set the *Err fields to force failures. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	calls   []Call
	entries map[key]ratings.Rating

	UpsertErr error
	DeleteErr error
}

var _ ratings.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{entries: make(map[key]ratings.Rating)}
}

// Calls returns a copy of every recorded invocation in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Get returns the stored rating for the key, if any.
func (s *Store) Get(queryID, userID string, tier ratings.Tier) (ratings.Rating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key{queryID, userID, tier}]
	return r, ok
}

func (s *Store) Upsert(ctx context.Context, r ratings.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Upsert", Args: map[string]any{
		"queryID": r.QueryID, "userID": r.UserID, "tier": r.Tier, "value": r.Value,
	}})
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	s.entries[key{r.QueryID, r.UserID, r.Tier}] = r
	return nil
}

func (s *Store) Delete(ctx context.Context, queryID, userID string, tier ratings.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Delete", Args: map[string]any{
		"queryID": queryID, "userID": userID, "tier": tier,
	}})
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	k := key{queryID, userID, tier}
	if _, ok := s.entries[k]; !ok {
		return ratings.ErrNotFound
	}
	delete(s.entries, k)
	return nil
}
