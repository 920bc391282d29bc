// Package rounds keeps the state of multi-step table rounds (blackjack and
// video poker) between player actions.
package rounds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Record is one open round. State is the engine's serialised hand.
type Record struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Table     string          `json:"table"`
	Kind      domain.GameType `json:"kind"`
	Stage     string          `json:"stage"`
	Wager     domain.Money    `json:"wager"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     json.RawMessage `json:"state"`
}

// NewRecord starts a round for a player at a table
func NewRecord(userID, table string, kind domain.GameType, wager domain.Money) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Table:     table,
		Kind:      kind,
		Wager:     wager,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key derives the idempotency key of one ledger step of the round
func (r *Record) Key(step string) string {
	return r.ID + ":" + step
}

// Owned checks that userID may act on the round
func (r *Record) Owned(userID string) error {
	if r.UserID != userID {
		return fmt.Errorf("%w: round %s belongs to another player", domain.ErrInvalidRoundState, r.ID)
	}
	return nil
}

// Store persists open rounds. A player has at most one open round per table.
type Store interface {
	// Create fails with ErrRoundInProgress if the player already has an
	// open round at the table
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	// Delete closes the round and frees the table for the player
	Delete(ctx context.Context, r *Record) error
	// Active returns the open round of the player at the table, or ErrNotFound
	Active(ctx context.Context, userID, table string) (*Record, error)
	// Stale lists rounds not touched since before
	Stale(ctx context.Context, before time.Time) ([]*Record, error)
}

func activeKey(userID, table string) string {
	return userID + "\x00" + table
}

func notFound(id string) error {
	return fmt.Errorf("%w: round %s", domain.ErrNotFound, id)
}
