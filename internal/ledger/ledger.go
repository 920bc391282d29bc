// Package ledger is the persistence contract behind settlement. Two
// interchangeable stores implement it: Postgres for deployments and an
// in-process store for demos and tests. Callers never depend on which one
// is active.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

var (
	// ErrTransient marks a failure worth retrying with the same idempotency key
	ErrTransient = errors.New("transient ledger failure")
	// ErrAccountExists is returned when creating an account twice
	ErrAccountExists = errors.New("account already exists")
)

// Mutation is one atomic balance change plus its history entry.
// FreeSpin consumes one free spin of GameID instead of a debit; BonusWager
// is the stake replayed by free spins when FreeSpinsWon starts a new bonus.
type Mutation struct {
	UserID         string
	IdempotencyKey string
	ActivityID     string
	GameID         string
	Currency       domain.Currency
	Debit          int64
	Credit         int64
	FreeSpin       bool
	FreeSpinsWon   int
	BonusWager     int64
	Result         domain.HistoryResult
	AuditRef       string
	OutcomeHash    string
	Outcome        json.RawMessage
	At             time.Time
}

// Validate checks the mutation before any store sees it
func (m *Mutation) Validate() error {
	switch {
	case m.UserID == "":
		return fmt.Errorf("%w: mutation without user", domain.ErrInvalidWager)
	case m.IdempotencyKey == "":
		return fmt.Errorf("%w: mutation without idempotency key", domain.ErrInvalidWager)
	case !m.Currency.Valid():
		return fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidWager, m.Currency)
	case m.Debit < 0 || m.Credit < 0 || m.FreeSpinsWon < 0 || m.BonusWager < 0:
		return fmt.Errorf("%w: negative amount in mutation", domain.ErrInvalidWager)
	case m.FreeSpin && m.Debit != 0:
		return fmt.Errorf("%w: free spin cannot carry a debit", domain.ErrInvalidWager)
	case m.Result == "":
		return fmt.Errorf("%w: mutation without result", domain.ErrInvalidWager)
	}
	return nil
}

// Receipt is the effect of an applied mutation. A replayed key returns the
// original receipt with Replayed set and nothing changed.
type Receipt struct {
	Balance  *domain.Balance      `json:"balance"`
	Entry    *domain.HistoryEntry `json:"entry"`
	Bonus    *domain.BonusState   `json:"bonus,omitempty"`
	Replayed bool                 `json:"replayed"`
}

// Grant is the starting balance of a new account
type Grant struct {
	GoldCoins  int64
	SweepsCash int64
}

// Store is the transactional contract of the balance ledger
type Store interface {
	// Apply performs the mutation atomically: funds check, debit, credit,
	// redeemable sub-ledger, bonus state and one history entry.
	Apply(ctx context.Context, m *Mutation) (*Receipt, error)
	// Lookup returns the receipt previously produced for key, or ErrNotFound
	Lookup(ctx context.Context, userID, key string) (*Receipt, error)

	Balance(ctx context.Context, userID string) (*domain.Balance, error)
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
	Bonus(ctx context.Context, userID, gameID string) (*domain.BonusState, error)
	History(ctx context.Context, f domain.HistoryFilter) ([]*domain.HistoryEntry, error)

	CreateAccount(ctx context.Context, p *domain.Profile, g Grant) (*domain.Balance, error)
	SetKYCStatus(ctx context.Context, userID string, status domain.KYCStatus) error
	// ResetStaleGuests restores the grant of guest accounts idle since cutoff
	ResetStaleGuests(ctx context.Context, cutoff time.Time, g Grant) (int, error)
}

// apply runs the settlement rules against loaded state. bal and bonus are
// modified in place; bonus may be nil when the player has none.
func apply(bal *domain.Balance, bonus *domain.BonusState, m *Mutation) (*domain.BonusState, error) {
	cur := m.Currency

	switch {
	case m.FreeSpin:
		if !bonus.Active() || bonus.Currency != cur {
			return bonus, domain.ErrNoFreeSpins
		}
		bonus.Remaining--
	case m.Debit > 0:
		if bal.Of(cur).Amount < m.Debit {
			return bonus, fmt.Errorf("%w: balance %s, wager %s", domain.ErrInsufficientFunds,
				bal.Of(cur), domain.NewMoney(m.Debit, cur))
		}
		bal.Set(cur, bal.Of(cur).Amount-m.Debit)
	}

	if m.Credit > 0 {
		bal.Set(cur, bal.Of(cur).Amount+m.Credit)
		if cur.Redeemable() {
			bal.RedeemableSC += m.Credit
		}
	}

	if m.FreeSpinsWon > 0 {
		if bonus.Active() {
			bonus.Remaining += m.FreeSpinsWon
		} else {
			bonus = &domain.BonusState{
				UserID:    m.UserID,
				GameID:    m.GameID,
				Remaining: m.FreeSpinsWon,
				Wager:     m.BonusWager,
				Currency:  cur,
			}
		}
	}

	bal.UpdatedAt = m.At
	return bonus, nil
}

func newEntry(m *Mutation, bal *domain.Balance) *domain.HistoryEntry {
	activity := m.ActivityID
	if activity == "" {
		activity = m.IdempotencyKey
	}
	return &domain.HistoryEntry{
		ID:             uuid.NewString(),
		ActivityID:     activity,
		UserID:         m.UserID,
		GameID:         m.GameID,
		Timestamp:      m.At,
		Debit:          m.Debit,
		Credit:         m.Credit,
		Currency:       m.Currency,
		Result:         m.Result,
		BalanceAfter:   bal.Of(m.Currency).Amount,
		AuditRef:       m.AuditRef,
		OutcomeHash:    m.OutcomeHash,
		Outcome:        m.Outcome,
		FreeSpin:       m.FreeSpin,
		IdempotencyKey: m.IdempotencyKey,
	}
}

// DefaultHistoryLimit applies when a filter has no limit
const DefaultHistoryLimit = 50

// MaxHistoryLimit caps one history page
const MaxHistoryLimit = 500

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return n
}
