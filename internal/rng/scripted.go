package rng

import (
	"fmt"
	"sync"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Scripted replays fixed values in order. It is used to force outcomes in
// tests and to re-derive a recorded outcome during verification.
//
// Ints are returned by GenerateIntRange (shifted into range: the scripted
// value is used as an offset from min and must fit the range), Floats by
// GenerateFloat. Bytes are deterministic. Running out of a queue is an
// ErrRNGUnavailable.
type Scripted struct {
	mu     sync.Mutex
	ints   []int64
	floats []float64
	secure bool
	seq    byte
}

// NewScripted creates a scripted source that reports itself as secure
func NewScripted(ints []int64, floats []float64) *Scripted {
	return &Scripted{ints: ints, floats: floats, secure: true}
}

// Insecure marks the source as non-cryptographic
func (s *Scripted) Insecure() *Scripted {
	s.secure = false
	return s
}

// PushInts appends values to the int queue
func (s *Scripted) PushInts(v ...int64) {
	s.mu.Lock()
	s.ints = append(s.ints, v...)
	s.mu.Unlock()
}

// PushFloats appends values to the float queue
func (s *Scripted) PushFloats(v ...float64) {
	s.mu.Lock()
	s.floats = append(s.floats, v...)
	s.mu.Unlock()
}

// Remaining returns the number of unread ints and floats
func (s *Scripted) Remaining() (ints, floats int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ints), len(s.floats)
}

// Secure implements Source
func (s *Scripted) Secure() bool { return s.secure }

// GenerateIntRange implements Source
func (s *Scripted) GenerateIntRange(min, max int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0, fmt.Errorf("%w: scripted ints exhausted", domain.ErrRNGUnavailable)
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	if v < 0 || v > max-min {
		return 0, fmt.Errorf("%w: scripted value %d outside [0,%d]", errBadRange, v, max-min)
	}
	return min + v, nil
}

// GenerateFloat implements Source
func (s *Scripted) GenerateFloat() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0, fmt.Errorf("%w: scripted floats exhausted", domain.ErrRNGUnavailable)
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v, nil
}

// GenerateBytes implements Source
func (s *Scripted) GenerateBytes(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = s.seq + byte(i)
	}
	return buf, nil
}
