package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. A caller must be able to tell them apart
// without parsing messages.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLocationBlocked   = errors.New("location blocked")
	ErrDeckDepleted      = errors.New("deck depleted")
	ErrInvalidRoundState = errors.New("invalid round state")
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrRNGUnavailable    = errors.New("secure rng unavailable")

	ErrInvalidWager    = errors.New("invalid wager")
	ErrKYCRequired     = errors.New("kyc verification required")
	ErrGameDisabled    = errors.New("game disabled")
	ErrNotFound        = errors.New("not found")
	ErrRoundInProgress = errors.New("round already in progress")
	ErrNoFreeSpins     = errors.New("no free spins remaining")
	ErrSelfExcluded    = errors.New("player is self-excluded")
	ErrLimitExceeded   = errors.New("wager limit exceeded")
)

// Kind is a stable, machine-readable error code
type Kind string

const (
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindLocationBlocked   Kind = "LOCATION_BLOCKED"
	KindDeckDepleted      Kind = "DECK_DEPLETED"
	KindInvalidRoundState Kind = "INVALID_ROUND_STATE"
	KindDataIntegrity     Kind = "DATA_INTEGRITY_ERROR"
	KindRNGUnavailable    Kind = "RNG_UNAVAILABLE"
	KindInvalidWager      Kind = "INVALID_WAGER"
	KindKYCRequired       Kind = "KYC_REQUIRED"
	KindGameDisabled      Kind = "GAME_DISABLED"
	KindNotFound          Kind = "NOT_FOUND"
	KindRoundInProgress   Kind = "ROUND_IN_PROGRESS"
	KindNoFreeSpins       Kind = "NO_FREE_SPINS"
	KindSelfExcluded      Kind = "SELF_EXCLUDED"
	KindLimitExceeded     Kind = "LIMIT_EXCEEDED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrLocationBlocked, KindLocationBlocked},
	{ErrDeckDepleted, KindDeckDepleted},
	{ErrInvalidRoundState, KindInvalidRoundState},
	{ErrDataIntegrity, KindDataIntegrity},
	{ErrRNGUnavailable, KindRNGUnavailable},
	{ErrInvalidWager, KindInvalidWager},
	{ErrKYCRequired, KindKYCRequired},
	{ErrGameDisabled, KindGameDisabled},
	{ErrNotFound, KindNotFound},
	{ErrRoundInProgress, KindRoundInProgress},
	{ErrNoFreeSpins, KindNoFreeSpins},
	{ErrSelfExcluded, KindSelfExcluded},
	{ErrLimitExceeded, KindLimitExceeded},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Fatal reports whether err must abort the current request without any
// partial settlement.
func Fatal(err error) bool {
	return errors.Is(err, ErrRNGUnavailable) || errors.Is(err, ErrDataIntegrity)
}

// LocationBlockedError carries the compliance reason code
type LocationBlockedError struct {
	Reason string
}

func (e *LocationBlockedError) Error() string {
	return fmt.Sprintf("location blocked: %s", e.Reason)
}

// Is makes errors.Is(err, ErrLocationBlocked) hold
func (e *LocationBlockedError) Is(target error) bool {
	return target == ErrLocationBlocked
}

// IntegrityError wraps a failed validation of external data
func IntegrityError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDataIntegrity, what, err)
}
