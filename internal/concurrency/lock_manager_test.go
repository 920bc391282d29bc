package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lm.Lock(ctx, "user-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, lm.Len())
}

func TestLockDifferentKeysIndependent(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlockA, err := lm.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, ok := lm.TryLock("b")
	require.True(t, ok)
	unlockB()
}

func TestLockHonoursContext(t *testing.T) {
	lm := NewLockManager()
	unlock, err := lm.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = lm.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := lm.TryLock("k")
	assert.False(t, ok)

	unlock()
	unlock()
	assert.Equal(t, 0, lm.Len())
}
