package rounds

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Memory is an in-process Store
type Memory struct {
	mu     sync.RWMutex
	rounds map[string]*Record
	active map[string]string
}

// NewMemory creates an empty round store
func NewMemory() *Memory {
	return &Memory{
		rounds: make(map[string]*Record),
		active: make(map[string]string),
	}
}

func clone(r *Record) *Record {
	c := *r
	c.State = append([]byte(nil), r.State...)
	return &c
}

// Create implements Store
func (m *Memory) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := activeKey(r.UserID, r.Table)
	if id, ok := m.active[k]; ok {
		return fmt.Errorf("%w: round %s open at %s", domain.ErrRoundInProgress, id, r.Table)
	}
	m.active[k] = r.ID
	m.rounds[r.ID] = clone(r)
	return nil
}

// Get implements Store
func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(r), nil
}

// Update implements Store
func (m *Memory) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; !ok {
		return notFound(r.ID)
	}
	r.UpdatedAt = time.Now().UTC()
	m.rounds[r.ID] = clone(r)
	return nil
}

// Delete implements Store
func (m *Memory) Delete(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rounds, r.ID)
	k := activeKey(r.UserID, r.Table)
	if m.active[k] == r.ID {
		delete(m.active, k)
	}
	return nil
}

// Active implements Store
func (m *Memory) Active(_ context.Context, userID, table string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[activeKey(userID, table)]
	if !ok {
		return nil, notFound(userID + "@" + table)
	}
	return clone(m.rounds[id]), nil
}

// Stale implements Store, oldest first
func (m *Memory) Stale(_ context.Context, before time.Time) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.rounds {
		if r.UpdatedAt.Before(before) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
