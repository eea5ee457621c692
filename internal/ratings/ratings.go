// Package ratings stores per-user feedback on generated responses.
package ratings

import (
	"context"
	"errors"
	"time"
)

// Tier identifies which response of a query the rating applies to.
type Tier string

const (
	TierFast     Tier = "fast"
	TierAccurate Tier = "accurate"
)

// Value is the rating verdict.
type Value string

const (
	ValueUp   Value = "up"
	ValueDown Value = "down"
)

var (
	// ErrNotFound indicates no rating exists for the given key.
	ErrNotFound = errors.New("rating not found")

	// ErrInvalid indicates an unknown tier or value.
	ErrInvalid = errors.New("invalid rating")
)

// Rating is one user's verdict on one response tier of one query.
type Rating struct {
	QueryID   string    `json:"query_id"`
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	Value     Value     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the tier and value fields.
func (r Rating) Validate() error {
	if r.Tier != TierFast && r.Tier != TierAccurate {
		return ErrInvalid
	}
	if r.Value != ValueUp && r.Value != ValueDown {
		return ErrInvalid
	}
	return nil
}

// Store persists ratings keyed by (query, user, tier).
type Store interface {
	// Upsert records the rating, replacing an existing one for the same key.
	// Repeating the same rating is a no-op. Fails with ErrInvalid on bad
	// tier or value.
	Upsert(ctx context.Context, r Rating) error

	// Delete removes the rating for the key. Fails with ErrNotFound when no
	// rating exists; the store is unchanged either way.
	Delete(ctx context.Context, queryID, userID string, tier Tier) error
}
