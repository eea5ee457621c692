// Package querystore persists user queries and their two response tiers.
//
// A query record is created before retrieval starts and filled in as the
// tiers complete: the fast response first, then optionally the accurate one.
// The accurate slot can never be set on a record whose fast slot is empty.
package querystore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prawnikgpt/prawnikgpt/internal/assembler"
)

// Question length bounds enforced before a record is created.
const (
	MinQuestionLen = 10
	MaxQuestionLen = 1000
)

// ListByUser pagination bounds.
const (
	MaxPerPage     = 100
	DefaultPerPage = 20
)

var (
	// ErrNotFound indicates no query record with the given ID exists.
	ErrNotFound = errors.New("query not found")

	// ErrFastMissing indicates an accurate response update was attempted on a
	// record whose fast response slot is still empty.
	ErrFastMissing = errors.New("fast response not set")

	// ErrInvalidQuestion indicates the question text violates the length
	// bounds.
	ErrInvalidQuestion = errors.New("question length out of bounds")
)

// FastResponse is the fast-tier answer attached to a query record.
type FastResponse struct {
	Content          string             `json:"content"`
	Sources          []assembler.Source `json:"sources"`
	ModelName        string             `json:"model_name"`
	GenerationTimeMs int                `json:"generation_time_ms"`
	CreatedAt        time.Time          `json:"created_at"`
}

// AccurateResponse is the accurate-tier answer. It shares the sources of the
// fast response it refines.
type AccurateResponse struct {
	Content          string    `json:"content"`
	ModelName        string    `json:"model_name"`
	GenerationTimeMs int       `json:"generation_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// QueryRecord is one user question with its response slots.
type QueryRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`

	Fast     *FastResponse     `json:"fast_response,omitempty"`
	Accurate *AccurateResponse `json:"accurate_response,omitempty"`
}

// ListOptions controls ListByUser pagination and ordering.
type ListOptions struct {
	Page    int
	PerPage int

	// Descending orders newest first. This is the default.
	Descending bool
}

// Normalize clamps o into the valid range: page at least 1, per-page within
// [1, MaxPerPage] defaulting to DefaultPerPage.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	return o
}

// ValidateQuestion checks the question text against the length bounds. Length
// is counted in runes, not bytes.
func ValidateQuestion(question string) error {
	n := len([]rune(question))
	if n < MinQuestionLen || n > MaxQuestionLen {
		return ErrInvalidQuestion
	}
	return nil
}

// NormalizeQuestion trims surrounding whitespace and checks the trimmed text
// against the length bounds. The trimmed text is what gets stored.
func NormalizeQuestion(question string) (string, error) {
	question = strings.TrimSpace(question)
	if err := ValidateQuestion(question); err != nil {
		return "", err
	}
	return question, nil
}

// Store persists query records.
type Store interface {
	// Create inserts a new record for the question and returns it with its
	// generated ID. The question is trimmed before validation and storage;
	// fails with ErrInvalidQuestion when the trimmed text violates the
	// length bounds.
	Create(ctx context.Context, userID, question string) (*QueryRecord, error)

	// GetByID returns the record. Fails with ErrNotFound.
	GetByID(ctx context.Context, id string) (*QueryRecord, error)

	// ListByUser returns one page of the user's records plus the total count.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]QueryRecord, int, error)

	// UpdateFast fills the fast response slot. Fails with ErrNotFound.
	UpdateFast(ctx context.Context, id string, resp FastResponse) error

	// UpdateAccurate fills the accurate response slot. Fails with ErrNotFound
	// or, when the fast slot is still empty, ErrFastMissing.
	UpdateAccurate(ctx context.Context, id string, resp AccurateResponse) error

	// Delete removes the record and its ratings. Fails with ErrNotFound.
	Delete(ctx context.Context, id string) error
}
