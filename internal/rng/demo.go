package rng

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Demo is a NON-CRYPTOGRAPHIC generator for Gold Coin demo play when the
// secure source is down. Secure reports false and the game engine refuses
// it for any Sweeps Cash wager.
type Demo struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewDemo seeds a PCG generator from the clock
func NewDemo() *Demo {
	now := uint64(time.Now().UnixNano())
	return &Demo{rnd: rand.New(rand.NewPCG(now, now>>17|1))}
}

// Secure implements Source
func (d *Demo) Secure() bool { return false }

// GenerateFloat implements Source
func (d *Demo) GenerateFloat() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rnd.Float64(), nil
}

// GenerateIntRange implements Source
func (d *Demo) GenerateIntRange(min, max int64) (int64, error) {
	if min > max {
		return 0, fmt.Errorf("%w: min cannot be greater than max", errBadRange)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return min + d.rnd.Int64N(max-min+1), nil
}

// GenerateBytes implements Source
func (d *Demo) GenerateBytes(n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(d.rnd.Uint32())
	}
	return buf, nil
}
