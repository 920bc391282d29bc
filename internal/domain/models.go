// Package domain contains the core domain models of the sweeps game server.
//
// Amounts are always integer minor units of their currency:
//   - GC (Gold Coin): play money, whole coins
//   - SC (Sweeps Cash): redeemable, cents
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the two player ledgers
type Currency string

const (
	GoldCoin   Currency = "GC"
	SweepsCash Currency = "SC"
)

// ParseCurrency accepts "GC"/"SC" in any case
func ParseCurrency(s string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case GoldCoin:
		return GoldCoin, nil
	case SweepsCash:
		return SweepsCash, nil
	}
	return "", fmt.Errorf("%w: unknown currency %q", ErrInvalidWager, s)
}

// Valid reports whether c is a known currency
func (c Currency) Valid() bool {
	return c == GoldCoin || c == SweepsCash
}

// Redeemable reports whether winnings in c can be redeemed for prizes
func (c Currency) Redeemable() bool {
	return c == SweepsCash
}

// Scale is the number of decimal places in one major unit
func (c Currency) Scale() int32 {
	if c == SweepsCash {
		return 2
	}
	return 0
}

// Money represents an amount in minor units of a currency
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// NewMoney creates a Money value
func NewMoney(amount int64, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// Add adds two money values
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub subtracts money value
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Mul multiplies by an exact decimal factor and truncates to the minor unit.
func (m Money) Mul(factor decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).Mul(factor).Floor()
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// Decimal returns the amount in major units
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -m.Currency.Scale())
}

// String formats the amount in major units, e.g. "12.50 SC"
func (m Money) String() string {
	return m.Decimal().StringFixed(m.Currency.Scale()) + " " + string(m.Currency)
}

// KYCStatus is the identity verification state of a player
type KYCStatus string

const (
	KYCNone     KYCStatus = "none"
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

// Profile is the user-store view of a player
type Profile struct {
	UserID       string    `json:"user_id" validate:"required"`
	DisplayName  string    `json:"display_name"`
	KYCStatus    KYCStatus `json:"kyc_status" validate:"required,oneof=none pending verified rejected"`
	Guest        bool      `json:"guest"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// CanPlaySweeps reports whether the player may wager Sweeps Cash
func (p *Profile) CanPlaySweeps() bool {
	return !p.Guest && p.KYCStatus == KYCVerified
}

// Balance holds both currency ledgers of one player.
// RedeemableSC is the portion of SweepsCash that came from winnings.
type Balance struct {
	UserID       string    `json:"user_id" validate:"required"`
	GoldCoins    int64     `json:"gold_coins" validate:"gte=0"`
	SweepsCash   int64     `json:"sweeps_cash" validate:"gte=0"`
	RedeemableSC int64     `json:"redeemable_sc" validate:"gte=0,ltefield=SweepsCash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Of returns the balance of the given currency
func (b *Balance) Of(c Currency) Money {
	if c == SweepsCash {
		return Money{Amount: b.SweepsCash, Currency: SweepsCash}
	}
	return Money{Amount: b.GoldCoins, Currency: GoldCoin}
}

// Set overwrites the balance of the given currency
func (b *Balance) Set(c Currency, amount int64) {
	if c == SweepsCash {
		b.SweepsCash = amount
		if b.RedeemableSC > amount {
			b.RedeemableSC = amount
		}
		return
	}
	b.GoldCoins = amount
}

// Wager is a single stake request. It is consumed once by settlement.
type Wager struct {
	Amount         int64    `json:"amount" validate:"gt=0"`
	Currency       Currency `json:"currency" validate:"required,oneof=GC SC"`
	GameID         string   `json:"game_id" validate:"required"`
	IdempotencyKey string   `json:"idempotency_key" validate:"required,max=128"`
}

// Money returns the stake as a Money value
func (w Wager) Money() Money {
	return Money{Amount: w.Amount, Currency: w.Currency}
}

// Outcome is the immutable result of one RNG-driven evaluation
type Outcome struct {
	GameID       string          `json:"game_id" validate:"required"`
	TotalWin     int64           `json:"total_win" validate:"gte=0"`
	IsBigWin     bool            `json:"is_big_win"`
	FreeSpinsWon int             `json:"free_spins_won" validate:"gte=0"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	AuditSeed    string          `json:"audit_seed" validate:"required,hexadecimal,len=32"`
	Demo         bool            `json:"demo,omitempty"`
}

// BonusState is the remaining free spins of a player on one slot game
type BonusState struct {
	UserID    string   `json:"user_id"`
	GameID    string   `json:"game_id"`
	Remaining int      `json:"remaining" validate:"gte=0"`
	Wager     int64    `json:"wager" validate:"gte=0"`
	Currency  Currency `json:"currency"`
}

// Active reports whether free spins remain
func (b *BonusState) Active() bool {
	return b != nil && b.Remaining > 0
}

// HistoryResult classifies a history entry
type HistoryResult string

const (
	ResultWin    HistoryResult = "win"
	ResultLoss   HistoryResult = "loss"
	ResultPush   HistoryResult = "push"
	ResultWager  HistoryResult = "wager"
	ResultRefund HistoryResult = "refund"
	ResultGrant  HistoryResult = "grant"
	ResultReset  HistoryResult = "reset"
)

// HistoryEntry is an immutable record of one settled ledger mutation
type HistoryEntry struct {
	ID             string          `json:"id" validate:"required"`
	ActivityID     string          `json:"activity_id" validate:"required"`
	UserID         string          `json:"user_id" validate:"required"`
	GameID         string          `json:"game_id"`
	Timestamp      time.Time       `json:"timestamp" validate:"required"`
	Debit          int64           `json:"debit" validate:"gte=0"`
	Credit         int64           `json:"credit" validate:"gte=0"`
	Currency       Currency        `json:"currency" validate:"required,oneof=GC SC"`
	Result         HistoryResult   `json:"result" validate:"required"`
	BalanceAfter   int64           `json:"balance_after" validate:"gte=0"`
	AuditRef       string          `json:"audit_ref"`
	OutcomeHash    string          `json:"outcome_hash,omitempty"`
	Outcome        json.RawMessage `json:"outcome,omitempty"`
	FreeSpin       bool            `json:"free_spin,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// Net returns credit minus debit
func (h *HistoryEntry) Net() int64 {
	return h.Credit - h.Debit
}

// HistoryFilter selects history entries of one player
type HistoryFilter struct {
	UserID string
	From   *time.Time
	To     *time.Time
	Limit  int
}

// GameType groups games by engine
type GameType string

const (
	GameTypeSlots     GameType = "slots"
	GameTypePlinko    GameType = "plinko"
	GameTypeBlackjack GameType = "blackjack"
	GameTypePoker     GameType = "poker"
	GameTypeScratch   GameType = "scratch"
)

// Game represents a game definition
type Game struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    GameType `json:"type"`
	Enabled bool     `json:"enabled"`
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent is a significant operational event (big wins, gate denials,
// RNG failures, aborted rounds, configuration changes)
type AuditEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Severity    EventSeverity   `json:"severity"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      *string         `json:"user_id,omitempty"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
	Component   string          `json:"component"`
}

// GamingSystemStatus represents the overall gaming system state
type GamingSystemStatus struct {
	GamingEnabled   bool       `json:"gaming_enabled"`
	DisabledAt      *time.Time `json:"disabled_at,omitempty"`
	DisabledBy      string     `json:"disabled_by,omitempty"`
	DisabledReason  string     `json:"disabled_reason,omitempty"`
	DisabledGames   []string   `json:"disabled_games,omitempty"`
	LastStateChange time.Time  `json:"last_state_change"`
}
