package domain

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Default denomination ladders in minor units
var (
	DefaultGCLadder = []int64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000}
	DefaultSCLadder = []int64{20, 50, 100, 200, 500, 1000, 2000, 5000, 10000}
)

// Ladders holds the allowed wager amounts of each currency
type Ladders struct {
	GC []int64 `json:"GC"`
	SC []int64 `json:"SC"`
}

// DefaultLadders returns the built-in ladders
func DefaultLadders() Ladders {
	return Ladders{GC: slices.Clone(DefaultGCLadder), SC: slices.Clone(DefaultSCLadder)}
}

// NewLadders builds ladders and checks that each is strictly ascending and positive
func NewLadders(gc, sc []int64) (Ladders, error) {
	for name, l := range map[string][]int64{"GC": gc, "SC": sc} {
		if len(l) == 0 {
			return Ladders{}, fmt.Errorf("%s ladder is empty", name)
		}
		for i, v := range l {
			if v <= 0 {
				return Ladders{}, fmt.Errorf("%s ladder entry %d must be positive", name, v)
			}
			if i > 0 && v <= l[i-1] {
				return Ladders{}, fmt.Errorf("%s ladder must be strictly ascending", name)
			}
		}
	}
	return Ladders{GC: slices.Clone(gc), SC: slices.Clone(sc)}, nil
}

// For returns the ladder of currency c
func (l Ladders) For(c Currency) []int64 {
	if c == SweepsCash {
		return l.SC
	}
	return l.GC
}

// Allows reports whether amount is a ladder entry of currency c
func (l Ladders) Allows(c Currency, amount int64) bool {
	if !c.Valid() {
		return false
	}
	_, ok := slices.BinarySearch(l.For(c), amount)
	return ok
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateWager checks shape and ladder membership of w
func (l Ladders) ValidateWager(w Wager) error {
	if err := Validator().Struct(w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWager, err)
	}
	if !l.Allows(w.Currency, w.Amount) {
		return fmt.Errorf("%w: %d %s is not an allowed denomination", ErrInvalidWager, w.Amount, w.Currency)
	}
	return nil
}

// CheckIntegrity validates a record that crossed in from an external store
func CheckIntegrity(what string, v any) error {
	if err := Validator().Struct(v); err != nil {
		return IntegrityError(what, err)
	}
	return nil
}
