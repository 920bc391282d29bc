package limits

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

type wagerKey struct {
	userID string
	cur    domain.Currency
	day    time.Time
}

// MemoryStore keeps limits in process memory
type MemoryStore struct {
	mu         sync.RWMutex
	limits     map[string]map[domain.Currency]Limit
	exclusions map[string]Exclusion
	wagered    map[wagerKey]int64
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		limits:     make(map[string]map[domain.Currency]Limit),
		exclusions: make(map[string]Exclusion),
		wagered:    make(map[wagerKey]int64),
	}
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, userID string) (*Limits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := &Limits{UserID: userID, DailyWager: map[domain.Currency]Limit{}}
	maps.Copy(l.DailyWager, m.limits[userID])
	if ex, ok := m.exclusions[userID]; ok {
		l.Exclusion = &ex
	}
	return l, nil
}

// SaveLimit implements Store
func (m *MemoryStore) SaveLimit(_ context.Context, userID string, cur domain.Currency, l Limit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits[userID] == nil {
		m.limits[userID] = make(map[domain.Currency]Limit)
	}
	m.limits[userID][cur] = l
	return nil
}

// SaveExclusion implements Store
func (m *MemoryStore) SaveExclusion(_ context.Context, userID string, ex Exclusion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exclusions[userID] = ex
	return nil
}

// Reserve implements Store
func (m *MemoryStore) Reserve(_ context.Context, userID string, cur domain.Currency, day time.Time, amount, limit int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := wagerKey{userID, cur, day}
	if limit > 0 && m.wagered[k]+amount > limit {
		return false, nil
	}
	m.wagered[k] += amount
	return true, nil
}

// Release implements Store
func (m *MemoryStore) Release(_ context.Context, userID string, cur domain.Currency, day time.Time, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wagered[wagerKey{userID, cur, day}] -= amount
	return nil
}

// Wagered implements Store
func (m *MemoryStore) Wagered(_ context.Context, userID string, cur domain.Currency, day time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wagered[wagerKey{userID, cur, day}], nil
}
