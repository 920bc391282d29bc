package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Memory is an in-process Store. All state sits behind one mutex so every
// Apply is atomic with respect to every read.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	balances map[string]*domain.Balance
	bonuses  map[string]*domain.BonusState
	history  map[string][]*domain.HistoryEntry
	receipts map[string]*Receipt
	now      func() time.Time
}

// NewMemory creates an empty in-process ledger
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]*domain.Profile),
		balances: make(map[string]*domain.Balance),
		bonuses:  make(map[string]*domain.BonusState),
		history:  make(map[string][]*domain.HistoryEntry),
		receipts: make(map[string]*Receipt),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func bonusKey(userID, gameID string) string { return userID + "\x00" + gameID }
func receiptKey(userID, key string) string { return userID + "\x00" + key }

func cloneBalance(b *domain.Balance) *domain.Balance {
	c := *b
	return &c
}

func cloneBonus(b *domain.BonusState) *domain.BonusState {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func cloneReceipt(r *Receipt, replayed bool) *Receipt {
	e := *r.Entry
	return &Receipt{
		Balance:  cloneBalance(r.Balance),
		Entry:    &e,
		Bonus:    cloneBonus(r.Bonus),
		Replayed: replayed,
	}
}

// Apply implements Store
func (s *Memory) Apply(ctx context.Context, m *Mutation) (*Receipt, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.receipts[receiptKey(m.UserID, m.IdempotencyKey)]; ok {
		return cloneReceipt(prior, true), nil
	}

	stored, ok := s.balances[m.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: balance of %s", domain.ErrNotFound, m.UserID)
	}
	if err := domain.CheckIntegrity("balance", stored); err != nil {
		return nil, err
	}

	if m.At.IsZero() {
		m.At = s.now()
	}
	bal := cloneBalance(stored)
	bonus := cloneBonus(s.bonuses[bonusKey(m.UserID, m.GameID)])

	bonus, err := apply(bal, bonus, m)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckIntegrity("balance", bal); err != nil {
		return nil, err
	}

	entry := newEntry(m, bal)
	s.balances[m.UserID] = bal
	if bonus.Active() {
		s.bonuses[bonusKey(m.UserID, m.GameID)] = bonus
	} else {
		delete(s.bonuses, bonusKey(m.UserID, m.GameID))
	}
	s.history[m.UserID] = append(s.history[m.UserID], entry)
	if p, ok := s.profiles[m.UserID]; ok {
		p.LastActiveAt = m.At
	}

	r := &Receipt{Balance: bal, Entry: entry, Bonus: bonus}
	s.receipts[receiptKey(m.UserID, m.IdempotencyKey)] = r
	return cloneReceipt(r, false), nil
}

// Lookup implements Store
func (s *Memory) Lookup(_ context.Context, userID, key string) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[receiptKey(userID, key)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneReceipt(r, true), nil
}

// Balance implements Store
func (s *Memory) Balance(_ context.Context, userID string) (*domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, fmt.Errorf("%w: balance of %s", domain.ErrNotFound, userID)
	}
	if err := domain.CheckIntegrity("balance", b); err != nil {
		return nil, err
	}
	return cloneBalance(b), nil
}

// Profile implements Store
func (s *Memory) Profile(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: profile of %s", domain.ErrNotFound, userID)
	}
	c := *p
	if err := domain.CheckIntegrity("profile", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Bonus implements Store. A player without free spins gets a zero state.
func (s *Memory) Bonus(_ context.Context, userID, gameID string) (*domain.BonusState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bonuses[bonusKey(userID, gameID)]; ok {
		return cloneBonus(b), nil
	}
	return &domain.BonusState{UserID: userID, GameID: gameID}, nil
}

// History implements Store, newest first
func (s *Memory) History(_ context.Context, f domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.history[f.UserID]
	out := make([]*domain.HistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit := clampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateAccount implements Store
func (s *Memory) CreateAccount(_ context.Context, p *domain.Profile, g Grant) (*domain.Balance, error) {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastActiveAt.IsZero() {
		p.LastActiveAt = now
	}
	if p.KYCStatus == "" {
		p.KYCStatus = domain.KYCNone
	}
	if err := domain.Validator().Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWager, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; ok {
		return nil, ErrAccountExists
	}
	c := *p
	s.profiles[p.UserID] = &c
	b := &domain.Balance{UserID: p.UserID, GoldCoins: g.GoldCoins, SweepsCash: g.SweepsCash, UpdatedAt: now}
	s.balances[p.UserID] = b
	return cloneBalance(b), nil
}

// SetKYCStatus implements Store
func (s *Memory) SetKYCStatus(_ context.Context, userID string, status domain.KYCStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return fmt.Errorf("%w: profile of %s", domain.ErrNotFound, userID)
	}
	p.KYCStatus = status
	return nil
}

// ResetStaleGuests implements Store
func (s *Memory) ResetStaleGuests(_ context.Context, cutoff time.Time, g Grant) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for id, p := range s.profiles {
		if !p.Guest || !p.LastActiveAt.Before(cutoff) {
			continue
		}
		b := s.balances[id]
		if b.GoldCoins == g.GoldCoins && b.SweepsCash == g.SweepsCash && b.RedeemableSC == 0 {
			continue
		}
		s.balances[id] = &domain.Balance{UserID: id, GoldCoins: g.GoldCoins, SweepsCash: g.SweepsCash, UpdatedAt: now}
		for k, bs := range s.bonuses {
			if bs.UserID == id {
				delete(s.bonuses, k)
			}
		}
		n++
	}
	return n, nil
}

// Corrupt overwrites a stored balance without any checks. It exists so
// tests can exercise the integrity boundary.
func (s *Memory) Corrupt(b *domain.Balance) {
	s.mu.Lock()
	s.balances[b.UserID] = cloneBalance(b)
	s.mu.Unlock()
}
