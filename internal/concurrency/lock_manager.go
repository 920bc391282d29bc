// Package concurrency provides keyed locks used to serialize work per
// player and per round.
package concurrency

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// LockManager hands out one lock per key. Entries are dropped once no
// goroutine holds or waits for them.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewLockManager creates a new LockManager
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*entry)}
}

// Lock acquires the lock for key, waiting until it is free or ctx is done.
// The returned func releases it and must be called exactly once.
func (lm *LockManager) Lock(ctx context.Context, key string) (func(), error) {
	lm.mu.Lock()
	e, ok := lm.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		lm.locks[key] = e
	}
	e.refs++
	lm.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		lm.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			lm.release(key, e)
		})
	}, nil
}

// TryLock acquires the lock for key only if it is free
func (lm *LockManager) TryLock(key string) (func(), bool) {
	lm.mu.Lock()
	e, ok := lm.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		lm.locks[key] = e
	}
	e.refs++
	lm.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	default:
		lm.release(key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			lm.release(key, e)
		})
	}, true
}

func (lm *LockManager) release(key string, e *entry) {
	lm.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(lm.locks, key)
	}
	lm.mu.Unlock()
}

// Len returns the number of live keys
func (lm *LockManager) Len() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
