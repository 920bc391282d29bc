// Package limits implements player protection: daily wager limits per
// currency and self-exclusion.
//
// Lowering a limit applies at once. Raising or removing one only applies
// after CoolingOffPeriod; until then the previous amount stays in force.
package limits

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// CoolingOffPeriod delays limit increases and removals
const CoolingOffPeriod = 24 * time.Hour

// MinExclusion is the shortest self-exclusion accepted
const MinExclusion = 24 * time.Hour

var (
	ErrInvalidLimit     = fmt.Errorf("%w: limit must be a non-negative amount", domain.ErrInvalidWager)
	ErrInvalidExclusion = fmt.Errorf("%w: exclusion must last at least %s", domain.ErrInvalidWager, MinExclusion)
)

// Limit is a daily wager cap in minor units. Zero means no cap.
type Limit struct {
	Amount      int64     `json:"amount"`
	Previous    int64     `json:"previous"`
	EffectiveAt time.Time `json:"effective_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InForce returns the cap that applies at now
func (l Limit) InForce(now time.Time) int64 {
	if now.Before(l.EffectiveAt) {
		return l.Previous
	}
	return l.Amount
}

// Exclusion is an active self-exclusion
type Exclusion struct {
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Limits is everything set for one player
type Limits struct {
	UserID     string                    `json:"user_id"`
	DailyWager map[domain.Currency]Limit `json:"daily_wager"`
	Exclusion  *Exclusion                `json:"exclusion,omitempty"`
}

// Status is a player's limits together with today's usage
type Status struct {
	*Limits
	WageredToday map[domain.Currency]int64 `json:"wagered_today"`
	Excluded     bool                      `json:"excluded"`
}

// Store persists limits and daily wager totals. Get returns empty Limits for
// an unknown player. Reserve adds amount to the day's total only if the
// result stays within limit (zero: no cap) and reports whether it did.
type Store interface {
	Get(ctx context.Context, userID string) (*Limits, error)
	SaveLimit(ctx context.Context, userID string, cur domain.Currency, l Limit) error
	SaveExclusion(ctx context.Context, userID string, ex Exclusion) error
	Reserve(ctx context.Context, userID string, cur domain.Currency, day time.Time, amount, limit int64) (bool, error)
	Release(ctx context.Context, userID string, cur domain.Currency, day time.Time, amount int64) error
	Wagered(ctx context.Context, userID string, cur domain.Currency, day time.Time) (int64, error)
}

// Service enforces player limits
type Service struct {
	store Store
	audit *audit.Service
	now   func() time.Time
}

// New creates a limits service
func New(store Store, auditSvc *audit.Service) *Service {
	return &Service{store: store, audit: auditSvc, now: time.Now}
}

// day is the UTC calendar day that daily totals are kept under
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Get returns the limits of a player and what counts against them today
func (s *Service) Get(ctx context.Context, userID string) (*Status, error) {
	l, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}
	now := s.now().UTC()
	st := &Status{Limits: l, WageredToday: map[domain.Currency]int64{}}
	for _, cur := range []domain.Currency{domain.GoldCoin, domain.SweepsCash} {
		n, err := s.store.Wagered(ctx, userID, cur, day(now))
		if err != nil {
			return nil, fmt.Errorf("failed to get wager total: %w", err)
		}
		st.WageredToday[cur] = n
	}
	st.Excluded = l.Exclusion != nil && now.Before(l.Exclusion.ExpiresAt)
	return st, nil
}

// SetDailyWager sets the daily wager cap of one currency. An amount of zero
// removes the cap.
func (s *Service) SetDailyWager(ctx context.Context, userID string, cur domain.Currency, amount int64) (*Status, error) {
	if amount < 0 {
		return nil, ErrInvalidLimit
	}
	if !cur.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidWager, cur)
	}
	current, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}

	now := s.now().UTC()
	inForce := current.DailyWager[cur].InForce(now)
	next := Limit{Amount: amount, Previous: inForce, EffectiveAt: now, UpdatedAt: now}
	loosened := inForce > 0 && (amount == 0 || amount > inForce)
	if loosened {
		next.EffectiveAt = now.Add(CoolingOffPeriod)
	}
	if err := s.store.SaveLimit(ctx, userID, cur, next); err != nil {
		return nil, fmt.Errorf("failed to save limit: %w", err)
	}

	s.audit.Log(ctx, audit.EventLimitChanged, domain.SeverityInfo,
		fmt.Sprintf("Daily %s wager limit set to %d (effective %s)", cur, amount, next.EffectiveAt.Format(time.RFC3339)),
		map[string]any{
			"currency":     cur,
			"amount":       amount,
			"previous":     inForce,
			"effective_at": next.EffectiveAt,
			"immediate":    !loosened,
		},
		audit.WithUser(userID), audit.WithComponent("limits"))

	return s.Get(ctx, userID)
}

// SelfExclude blocks all play for d. A running exclusion is never shortened.
func (s *Service) SelfExclude(ctx context.Context, userID, reason string, d time.Duration) (*Exclusion, error) {
	if d < MinExclusion {
		return nil, ErrInvalidExclusion
	}
	current, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}

	now := s.now().UTC()
	ex := Exclusion{Reason: reason, StartedAt: now, ExpiresAt: now.Add(d)}
	if old := current.Exclusion; old != nil && old.ExpiresAt.After(ex.ExpiresAt) {
		return old, nil
	}
	if err := s.store.SaveExclusion(ctx, userID, ex); err != nil {
		return nil, fmt.Errorf("failed to create self-exclusion: %w", err)
	}

	s.audit.Log(ctx, audit.EventSelfExclusion, domain.SeverityCritical,
		fmt.Sprintf("Player self-excluded until %s", ex.ExpiresAt.Format(time.RFC3339)),
		map[string]any{"reason": reason, "expires_at": ex.ExpiresAt},
		audit.WithUser(userID), audit.WithComponent("limits"))
	return &ex, nil
}

// Reserve counts stake against today's total when the player may wager
// it. It fails when the player is excluded or when the stake would take the
// day's wagers past the cap in force. The check and the increment are one
// store operation, so concurrent stakes cannot jointly pass the cap.
//
// The returned release takes the stake back off the total and must be
// called when the stake ends up not being debited. A zero stake only checks
// the exclusion.
func (s *Service) Reserve(ctx context.Context, userID string, stake domain.Money) (func(), error) {
	l, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}
	now := s.now().UTC()
	if l.Exclusion != nil && now.Before(l.Exclusion.ExpiresAt) {
		return nil, fmt.Errorf("%w until %s", domain.ErrSelfExcluded, l.Exclusion.ExpiresAt.Format(time.RFC3339))
	}
	if stake.Amount <= 0 {
		return func() {}, nil
	}

	limit := l.DailyWager[stake.Currency].InForce(now)
	d := day(now)
	ok, err := s.store.Reserve(ctx, userID, stake.Currency, d, stake.Amount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to record wager: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: daily %s cap of %d reached", domain.ErrLimitExceeded, stake.Currency, limit)
	}

	return func() {
		if err := s.store.Release(context.WithoutCancel(ctx), userID, stake.Currency, d, stake.Amount); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id":  userID,
				"currency": stake.Currency,
				"amount":   stake.Amount,
			}).Error("Failed to release wager reservation")
		}
	}, nil
}
