package rng

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy pool closed") }

func TestGenerateBytes(t *testing.T) {
	s := New()

	t.Run("GeneratesCorrectLength", func(t *testing.T) {
		for _, size := range []int{1, 8, 16, 32, 256} {
			b, err := s.GenerateBytes(size)
			require.NoError(t, err)
			assert.Len(t, b, size)
		}
	})

	t.Run("GeneratesUniqueValues", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			b, err := s.GenerateBytes(16)
			require.NoError(t, err)
			assert.False(t, seen[string(b)], "duplicate 128-bit value")
			seen[string(b)] = true
		}
	})
}

func TestGenerateInt(t *testing.T) {
	s := New()

	t.Run("GeneratesWithinRange", func(t *testing.T) {
		for _, max := range []int64{1, 2, 10, 1000, 1 << 40} {
			for i := 0; i < 500; i++ {
				n, err := s.GenerateInt(max)
				require.NoError(t, err)
				require.True(t, n >= 0 && n < max, "value %d out of [0,%d)", n, max)
			}
		}
	})

	t.Run("RejectsZeroOrNegative", func(t *testing.T) {
		_, err := s.GenerateInt(0)
		assert.Error(t, err)
		_, err = s.GenerateInt(-1)
		assert.Error(t, err)
	})

	t.Run("UniformDistribution", func(t *testing.T) {
		const bins = 10
		samples := make([]int64, 100000)
		for i := range samples {
			n, err := s.GenerateInt(bins)
			require.NoError(t, err)
			samples[i] = n
		}
		chi, _ := ChiSquare(samples, bins)
		assert.Less(t, chi, CriticalValue(bins-1)*1.25)
	})
}

func TestGenerateIntRange(t *testing.T) {
	s := New()

	t.Run("Inclusive", func(t *testing.T) {
		seenMin, seenMax := false, false
		for i := 0; i < 2000; i++ {
			n, err := s.GenerateIntRange(-3, 3)
			require.NoError(t, err)
			require.True(t, n >= -3 && n <= 3)
			seenMin = seenMin || n == -3
			seenMax = seenMax || n == 3
		}
		assert.True(t, seenMin && seenMax, "both bounds must be reachable")
	})

	t.Run("RejectsInvalidRange", func(t *testing.T) {
		_, err := s.GenerateIntRange(10, 5)
		assert.Error(t, err)
	})

	t.Run("SingleValueRange", func(t *testing.T) {
		n, err := s.GenerateIntRange(5, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})
}

func TestGenerateFloat(t *testing.T) {
	s := New()
	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		f, err := s.GenerateFloat()
		require.NoError(t, err)
		require.True(t, f >= 0 && f < 1)
		sum += f
	}
	assert.InDelta(t, 0.5, sum/n, 0.02)
}

func TestEntropyFailure(t *testing.T) {
	s := NewWithReader(failingReader{})

	_, err := s.GenerateFloat()
	assert.ErrorIs(t, err, domain.ErrRNGUnavailable)

	_, err = s.GenerateBytes(4)
	assert.ErrorIs(t, err, domain.ErrRNGUnavailable)

	_, err = AuditSeed(s)
	assert.ErrorIs(t, err, domain.ErrRNGUnavailable)

	res, err := s.HealthCheck()
	assert.Error(t, err)
	assert.False(t, res.Healthy)
}

func TestShuffle(t *testing.T) {
	s := New()

	t.Run("IsPermutation", func(t *testing.T) {
		slice := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
		require.NoError(t, s.Shuffle(slice))
		assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, slice)
	})

	t.Run("UsesDescendingIndices", func(t *testing.T) {
		// j=0 at every step rotates the first element to the end
		src := NewScripted([]int64{0, 0, 0, 0}, nil)
		slice := []int{1, 2, 3, 4, 5}
		require.NoError(t, ShuffleN(src, len(slice), func(i, j int) {
			slice[i], slice[j] = slice[j], slice[i]
		}))
		assert.Equal(t, []int{2, 3, 4, 5, 1}, slice)
	})
}

func TestSelectWeighted(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		src := NewScripted(nil, []float64{0.0, 0.49, 0.5, 0.99})
		weights := []float64{50, 50}
		for _, want := range []int{0, 0, 1, 1} {
			got, err := SelectWeighted(src, weights)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("RejectsBadWeights", func(t *testing.T) {
		s := New()
		_, err := SelectWeighted(s, nil)
		assert.Error(t, err)
		_, err = SelectWeighted(s, []float64{1, -1})
		assert.Error(t, err)
		_, err = SelectWeighted(s, []float64{0, 0})
		assert.Error(t, err)
	})
}

func TestAuditSeed(t *testing.T) {
	seed, err := AuditSeed(New())
	require.NoError(t, err)
	assert.Len(t, seed, AuditSeedBytes*2)
}

func TestHealthCheck(t *testing.T) {
	res, err := New().HealthCheck()
	require.NoError(t, err)
	assert.Greater(t, res.SamplesGenerated, int64(0))
	assert.Greater(t, res.ChiSquare, 0.0)
}

func TestCriticalValue(t *testing.T) {
	assert.InDelta(t, 134.6, CriticalValue(99), 0.5)
	assert.InDelta(t, 21.67, CriticalValue(9), 0.3)
}

func TestScripted(t *testing.T) {
	s := NewScripted([]int64{2}, []float64{0.75})
	n, err := s.GenerateIntRange(10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	f, err := s.GenerateFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.75, f)

	_, err = s.GenerateFloat()
	assert.ErrorIs(t, err, domain.ErrRNGUnavailable)

	assert.False(t, s.Insecure().Secure())
}

func TestDemoIsNotSecure(t *testing.T) {
	d := NewDemo()
	assert.False(t, d.Secure())
	n, err := d.GenerateIntRange(1, 6)
	require.NoError(t, err)
	assert.True(t, n >= 1 && n <= 6)
}
