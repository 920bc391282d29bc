// Package rng provides the random sources used by every outcome engine.
// Engines receive a Source explicitly; none of them reads ambient randomness.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Source is the contract of the RNG provider.
type Source interface {
	// GenerateFloat returns a value in [0, 1)
	GenerateFloat() (float64, error)
	// GenerateIntRange returns a value in [min, max], both inclusive
	GenerateIntRange(min, max int64) (int64, error)
	// GenerateBytes returns n random bytes
	GenerateBytes(n int) ([]byte, error)
	// Secure reports whether the source is backed by a cryptographic entropy pool
	Secure() bool
}

// AuditSeedBytes is the size of the provenance token attached to outcomes
const AuditSeedBytes = 16

var errBadRange = errors.New("invalid range")

// Service provides cryptographically strong random number generation
type Service struct {
	entropy io.Reader
	mu      sync.Mutex

	lastHealthCheck  time.Time
	samplesGenerated int64
}

// New creates a new RNG service using crypto/rand
func New() *Service {
	return NewWithReader(rand.Reader)
}

// NewWithReader creates a service over an arbitrary entropy reader
func NewWithReader(r io.Reader) *Service {
	return &Service{
		entropy:         r,
		lastHealthCheck: time.Now(),
	}
}

// Secure implements Source
func (s *Service) Secure() bool { return true }

// GenerateBytes returns n cryptographically random bytes
func (s *Service) GenerateBytes(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, n)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRNGUnavailable, err)
	}

	s.samplesGenerated++
	return buf, nil
}

// GenerateInt returns a random integer in range [0, max).
// Values above the largest multiple of max are rejected so that every
// residue is equally likely.
func (s *Service) GenerateInt(max int64) (int64, error) {
	if max <= 0 {
		return 0, fmt.Errorf("%w: max must be positive", errBadRange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := uint64(1<<63-1) - (uint64(1<<63-1) % uint64(max))

	buf := make([]byte, 8)
	for {
		if _, err := io.ReadFull(s.entropy, buf); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrRNGUnavailable, err)
		}

		n := binary.BigEndian.Uint64(buf) >> 1

		if n < threshold {
			s.samplesGenerated++
			return int64(n % uint64(max)), nil
		}
	}
}

// GenerateIntRange returns a random integer in range [min, max]
func (s *Service) GenerateIntRange(min, max int64) (int64, error) {
	if min > max {
		return 0, fmt.Errorf("%w: min cannot be greater than max", errBadRange)
	}

	n, err := s.GenerateInt(max - min + 1)
	if err != nil {
		return 0, err
	}

	return min + n, nil
}

// GenerateFloat returns a random float in range [0.0, 1.0) with 53 bits of precision
func (s *Service) GenerateFloat() (float64, error) {
	n, err := s.GenerateInt(1 << 53)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(1<<53), nil
}

// Shuffle performs a Fisher-Yates shuffle on a slice of integers
func (s *Service) Shuffle(slice []int) error {
	return ShuffleN(s, len(slice), func(i, j int) {
		slice[i], slice[j] = slice[j], slice[i]
	})
}

// ShuffleN runs Fisher-Yates over n elements: from the last index down to 1,
// element i is swapped with a uniformly chosen j in [0, i].
func ShuffleN(src Source, n int, swap func(i, j int)) error {
	for i := n - 1; i > 0; i-- {
		j, err := src.GenerateIntRange(0, int64(i))
		if err != nil {
			return err
		}
		swap(i, int(j))
	}
	return nil
}

// SelectWeighted selects an index based on weighted probabilities
func SelectWeighted(src Source, weights []float64) (int, error) {
	if len(weights) == 0 {
		return 0, fmt.Errorf("%w: weights cannot be empty", errBadRange)
	}

	var total float64
	for _, w := range weights {
		if w < 0 {
			return 0, fmt.Errorf("%w: weights cannot be negative", errBadRange)
		}
		total += w
	}

	if total <= 0 {
		return 0, fmt.Errorf("%w: total weight must be positive", errBadRange)
	}

	r, err := src.GenerateFloat()
	if err != nil {
		return 0, err
	}

	target := r * total

	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			return i, nil
		}
	}

	return len(weights) - 1, nil
}

// AuditSeed draws an independent provenance token, hex encoded
func AuditSeed(src Source) (string, error) {
	b, err := src.GenerateBytes(AuditSeedBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HealthCheck verifies RNG is functioning correctly
func (s *Service) HealthCheck() (*HealthResult, error) {
	s.mu.Lock()
	s.lastHealthCheck = time.Now()
	s.mu.Unlock()

	const sampleSize = 1000
	samples := make([]int64, sampleSize)

	for i := 0; i < sampleSize; i++ {
		n, err := s.GenerateInt(100)
		if err != nil {
			return &HealthResult{
				Healthy:   false,
				Timestamp: time.Now(),
				Error:     err.Error(),
			}, err
		}
		samples[i] = n
	}

	chiSquare, passed := ChiSquare(samples, 100)

	s.mu.Lock()
	generated := s.samplesGenerated
	s.mu.Unlock()

	return &HealthResult{
		Healthy:          passed,
		Timestamp:        time.Now(),
		SamplesGenerated: generated,
		ChiSquare:        chiSquare,
		ChiSquarePassed:  passed,
	}, nil
}

// ChiSquare computes the chi-square statistic of samples over bins equally
// likely categories and compares it against the 99% critical value.
func ChiSquare(samples []int64, bins int) (float64, bool) {
	counts := make([]int, bins)
	for _, sample := range samples {
		counts[int(sample)%bins]++
	}

	expected := float64(len(samples)) / float64(bins)

	var chiSquare float64
	for _, count := range counts {
		diff := float64(count) - expected
		chiSquare += (diff * diff) / expected
	}

	return chiSquare, chiSquare < CriticalValue(bins-1)
}

// CriticalValue approximates the 99% chi-square critical value for dof
// degrees of freedom (Wilson-Hilferty).
func CriticalValue(dof int) float64 {
	k := float64(dof)
	const z = 2.326
	h := 2.0 / (9.0 * k)
	return k * math.Pow(1-h+z*math.Sqrt(h), 3)
}

// HealthResult contains RNG health check results
type HealthResult struct {
	Healthy          bool      `json:"healthy"`
	Timestamp        time.Time `json:"timestamp"`
	SamplesGenerated int64     `json:"samples_generated"`
	ChiSquare        float64   `json:"chi_square"`
	ChiSquarePassed  bool      `json:"chi_square_passed"`
	Error            string    `json:"error,omitempty"`
}
