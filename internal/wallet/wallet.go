// Package wallet is the settlement coordinator. It is the only code that
// moves money: every debit and credit goes through one ledger mutation,
// keyed for exactly-once application.
package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/alexbotov/sweepsrgs/internal/concurrency"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
)

// Options tune settlement retries and the replay cache
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	CacheSize  int
	CacheTTL   time.Duration
}

// DefaultOptions are used for zero fields
var DefaultOptions = Options{
	MaxRetries: 3,
	RetryDelay: 50 * time.Millisecond,
	CacheSize:  10000,
	CacheTTL:   10 * time.Minute,
}

// Service settles plays against a ledger store
type Service struct {
	store   ledger.Store
	ladders domain.Ladders
	locks   *concurrency.LockManager
	recent  *expirable.LRU[string, *ledger.Receipt]
	opts    Options
}

// New creates a settlement service
func New(store ledger.Store, ladders domain.Ladders, opts Options) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions.RetryDelay
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions.CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultOptions.CacheTTL
	}
	return &Service{
		store:   store,
		ladders: ladders,
		locks:   concurrency.NewLockManager(),
		recent:  expirable.NewLRU[string, *ledger.Receipt](opts.CacheSize, nil, opts.CacheTTL),
		opts:    opts,
	}
}

// Ladders returns the denomination ladders in force
func (s *Service) Ladders() domain.Ladders {
	return s.ladders
}

// Play is a single-step settlement: one debit of the wager and one credit
// of the outcome's win, applied together. A free spin debits nothing and
// consumes one spin of the player's bonus instead.
type Play struct {
	UserID   string
	Wager    domain.Wager
	Outcome  *domain.Outcome
	FreeSpin bool
}

// Settle applies a play exactly once. Replaying the idempotency key returns
// the original receipt and leaves the balance untouched.
func (s *Service) Settle(ctx context.Context, p Play) (*ledger.Receipt, error) {
	if p.FreeSpin {
		if err := domain.Validator().Struct(p.Wager); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWager, err)
		}
	} else if err := s.ladders.ValidateWager(p.Wager); err != nil {
		return nil, err
	}
	if p.Outcome == nil {
		return nil, domain.IntegrityError("outcome", errors.New("missing"))
	}
	if err := domain.CheckIntegrity("outcome", p.Outcome); err != nil {
		return nil, err
	}
	if p.Outcome.GameID != p.Wager.GameID {
		return nil, domain.IntegrityError("outcome", fmt.Errorf("game %s settled as %s", p.Outcome.GameID, p.Wager.GameID))
	}

	payload, hash, err := Digest(p.Outcome)
	if err != nil {
		return nil, err
	}

	m := &ledger.Mutation{
		UserID:         p.UserID,
		IdempotencyKey: p.Wager.IdempotencyKey,
		GameID:         p.Wager.GameID,
		Currency:       p.Wager.Currency,
		Credit:         p.Outcome.TotalWin,
		FreeSpin:       p.FreeSpin,
		FreeSpinsWon:   p.Outcome.FreeSpinsWon,
		BonusWager:     p.Wager.Amount,
		Result:         domain.ResultLoss,
		AuditRef:       p.Outcome.AuditSeed,
		OutcomeHash:    hash,
		Outcome:        payload,
	}
	if !p.FreeSpin {
		m.Debit = p.Wager.Amount
	}
	if p.Outcome.TotalWin > 0 {
		m.Result = domain.ResultWin
	}

	r, err := s.apply(ctx, m)
	if err != nil {
		return nil, err
	}
	if !r.Replayed {
		labels := []string{p.Wager.GameID, string(p.Wager.Currency)}
		metrics.PlaysTotal.WithLabelValues(p.Wager.GameID, string(p.Wager.Currency), string(m.Result)).Inc()
		metrics.WageredTotal.WithLabelValues(labels...).Add(float64(m.Debit))
		metrics.PaidTotal.WithLabelValues(labels...).Add(float64(m.Credit))
	}
	return r, nil
}

// Entry is one step of a multi-step round: the deal or double debit, or
// the resolution credit. Key is derived from the round id per step.
type Entry struct {
	UserID     string
	Key        string
	ActivityID string
	GameID     string
	Amount     domain.Money
	Result     domain.HistoryResult
	AuditRef   string
	Outcome    any
}

// Debit takes a round stake from the player
func (s *Service) Debit(ctx context.Context, e Entry) (*ledger.Receipt, error) {
	m, err := e.mutation()
	if err != nil {
		return nil, err
	}
	m.Debit = e.Amount.Amount
	r, err := s.apply(ctx, m)
	if err == nil && !r.Replayed {
		metrics.WageredTotal.WithLabelValues(e.GameID, string(e.Amount.Currency)).Add(float64(m.Debit))
	}
	return r, err
}

// Credit pays a round resolution or refund. A zero amount still records
// the resolution in history.
func (s *Service) Credit(ctx context.Context, e Entry) (*ledger.Receipt, error) {
	m, err := e.mutation()
	if err != nil {
		return nil, err
	}
	m.Credit = e.Amount.Amount
	r, err := s.apply(ctx, m)
	if err == nil && !r.Replayed {
		cur := string(e.Amount.Currency)
		metrics.PaidTotal.WithLabelValues(e.GameID, cur).Add(float64(m.Credit))
		if e.Result != domain.ResultRefund {
			metrics.PlaysTotal.WithLabelValues(e.GameID, cur, string(e.Result)).Inc()
		}
	}
	return r, err
}

func (e Entry) mutation() (*ledger.Mutation, error) {
	if e.Amount.Amount < 0 {
		return nil, fmt.Errorf("%w: negative amount", domain.ErrInvalidWager)
	}
	m := &ledger.Mutation{
		UserID:         e.UserID,
		IdempotencyKey: e.Key,
		ActivityID:     e.ActivityID,
		GameID:         e.GameID,
		Currency:       e.Amount.Currency,
		Result:         e.Result,
		AuditRef:       e.AuditRef,
	}
	if e.Outcome != nil {
		payload, hash, err := Digest(e.Outcome)
		if err != nil {
			return nil, err
		}
		m.Outcome, m.OutcomeHash = payload, hash
	}
	return m, nil
}

// apply serializes mutations per player, answers recent replays from the
// cache and retries transient store failures with the same key.
func (s *Service) apply(ctx context.Context, m *ledger.Mutation) (*ledger.Receipt, error) {
	start := time.Now()
	defer func() { metrics.SettlementDuration.Observe(time.Since(start).Seconds()) }()

	unlock, err := s.locks.Lock(ctx, m.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ck := cacheKey(m.UserID, m.IdempotencyKey)
	if r, ok := s.recent.Get(ck); ok {
		metrics.SettlementReplays.Inc()
		replay := *r
		replay.Replayed = true
		return &replay, nil
	}

	var r *ledger.Receipt
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.SettlementRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.RetryDelay * time.Duration(1<<(attempt-1))):
			}
		}
		r, err = s.store.Apply(ctx, m)
		if !errors.Is(err, ledger.ErrTransient) {
			break
		}
		log.WithError(err).WithFields(log.Fields{
			"user_id": m.UserID,
			"key":     m.IdempotencyKey,
			"attempt": attempt + 1,
		}).Warn("Transient ledger failure, retrying")
	}
	if err != nil {
		kind := domain.KindOf(err)
		metrics.SettlementErrors.WithLabelValues(string(kind)).Inc()
		entry := log.WithError(err).WithFields(log.Fields{"user_id": m.UserID, "key": m.IdempotencyKey})
		if domain.Fatal(err) {
			entry.Error("Settlement aborted")
		} else {
			entry.Debug("Settlement rejected")
		}
		return nil, err
	}

	if r.Replayed {
		metrics.SettlementReplays.Inc()
	}
	s.recent.Add(ck, r)
	return r, nil
}

// Lookup returns the receipt of an already applied key, or ErrNotFound
func (s *Service) Lookup(ctx context.Context, userID, key string) (*ledger.Receipt, error) {
	if r, ok := s.recent.Get(cacheKey(userID, key)); ok {
		replay := *r
		replay.Replayed = true
		return &replay, nil
	}
	return s.store.Lookup(ctx, userID, key)
}

// GetBalance returns both currency balances of a player
func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	return s.store.Balance(ctx, userID)
}

// GetProfile returns the player profile
func (s *Service) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return s.store.Profile(ctx, userID)
}

// GetBonus returns the free spins left on a game
func (s *Service) GetBonus(ctx context.Context, userID, gameID string) (*domain.BonusState, error) {
	return s.store.Bonus(ctx, userID, gameID)
}

// History returns settled entries, newest first
func (s *Service) History(ctx context.Context, f domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	return s.store.History(ctx, f)
}

// OpenAccount creates a player with a starting grant
func (s *Service) OpenAccount(ctx context.Context, p *domain.Profile, g ledger.Grant) (*domain.Balance, error) {
	b, err := s.store.CreateAccount(ctx, p, g)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": p.UserID, "guest": p.Guest}).Info("Account opened")
	return b, nil
}

// SetKYCStatus records the identity verification result of a player
func (s *Service) SetKYCStatus(ctx context.Context, userID string, status domain.KYCStatus) error {
	return s.store.SetKYCStatus(ctx, userID, status)
}

// ResetStaleGuests restores the grant of guests idle since cutoff
func (s *Service) ResetStaleGuests(ctx context.Context, cutoff time.Time, g ledger.Grant) (int, error) {
	return s.store.ResetStaleGuests(ctx, cutoff, g)
}

func cacheKey(userID, key string) string {
	return userID + "\x00" + key
}

// Digest returns the canonical JSON of an outcome and its SHA3-256 hex
// digest, stored with the history entry for later verification.
func Digest(v any) (json.RawMessage, string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode outcome: %w", err)
	}
	sum := sha3.Sum256(payload)
	return payload, hex.EncodeToString(sum[:]), nil
}
