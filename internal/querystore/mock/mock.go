// Package mock provides an in-memory recording double for the
// querystore.Store interface.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
)

// Call records one method invocation on the store.
type Call struct {
	Method string
	Args   map[string]any
}

// Store is an in-memory querystore.Store. It honors the same invariants as
// the real store (not-found, fast-before-accurate) and records every
// invocation. Set the *Err fields to force failures. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	calls   []Call
	records map[string]*querystore.QueryRecord
	nextID  int

	CreateErr         error
	GetErr            error
	ListErr           error
	UpdateFastErr     error
	UpdateAccurateErr error
	DeleteErr         error
}

var _ querystore.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string]*querystore.QueryRecord)}
}

func (s *Store) record(method string, args map[string]any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
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

func (s *Store) Create(ctx context.Context, userID, question string) (*querystore.QueryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Create", map[string]any{"userID": userID, "question": question})
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	normalized, err := querystore.NormalizeQuestion(question)
	if err != nil {
		return nil, err
	}
	question = normalized
	s.nextID++
	rec := &querystore.QueryRecord{
		ID:        fmt.Sprintf("query-%d", s.nextID),
		UserID:    userID,
		Question:  question,
		CreatedAt: time.Now().UTC(),
	}
	s.records[rec.ID] = rec
	out := *rec
	return &out, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*querystore.QueryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByID", map[string]any{"id": id})
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, querystore.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, opts querystore.ListOptions) ([]querystore.QueryRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListByUser", map[string]any{"userID": userID, "opts": opts})
	if s.ListErr != nil {
		return nil, 0, s.ListErr
	}
	opts = opts.Normalize()

	var all []querystore.QueryRecord
	for _, rec := range s.records {
		if rec.UserID == userID {
			all = append(all, *rec)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if opts.Descending {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	start := (opts.Page - 1) * opts.PerPage
	if start >= total {
		return []querystore.QueryRecord{}, total, nil
	}
	end := start + opts.PerPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) UpdateFast(ctx context.Context, id string, resp querystore.FastResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateFast", map[string]any{"id": id, "model": resp.ModelName})
	if s.UpdateFastErr != nil {
		return s.UpdateFastErr
	}
	rec, ok := s.records[id]
	if !ok {
		return querystore.ErrNotFound
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	rec.Fast = &resp
	return nil
}

func (s *Store) UpdateAccurate(ctx context.Context, id string, resp querystore.AccurateResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateAccurate", map[string]any{"id": id, "model": resp.ModelName})
	if s.UpdateAccurateErr != nil {
		return s.UpdateAccurateErr
	}
	rec, ok := s.records[id]
	if !ok {
		return querystore.ErrNotFound
	}
	if rec.Fast == nil {
		return querystore.ErrFastMissing
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	rec.Accurate = &resp
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Delete", map[string]any{"id": id})
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if _, ok := s.records[id]; !ok {
		return querystore.ErrNotFound
	}
	delete(s.records, id)
	return nil
}
