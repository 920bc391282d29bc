package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	t.Run("AddSub", func(t *testing.T) {
		m := NewMoney(1000, GoldCoin)
		assert.Equal(t, int64(1500), m.Add(NewMoney(500, GoldCoin)).Amount)
		assert.Equal(t, int64(-200), NewMoney(100, GoldCoin).Sub(NewMoney(300, GoldCoin)).Amount)
	})

	t.Run("MulTruncates", func(t *testing.T) {
		m := NewMoney(10, GoldCoin)
		assert.Equal(t, int64(3), m.Mul(decimal.RequireFromString("0.35")).Amount)
		assert.Equal(t, int64(80), NewMoney(100, GoldCoin).Mul(decimal.NewFromFloat(0.8)).Amount)
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "12.50 SC", NewMoney(1250, SweepsCash).String())
		assert.Equal(t, "980 GC", NewMoney(980, GoldCoin).String())
	})
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" sc ")
	require.NoError(t, err)
	assert.Equal(t, SweepsCash, c)

	_, err = ParseCurrency("USD")
	assert.ErrorIs(t, err, ErrInvalidWager)
}

func TestBalanceSetClampsRedeemable(t *testing.T) {
	b := &Balance{UserID: "u1", SweepsCash: 500, RedeemableSC: 400}
	b.Set(SweepsCash, 300)
	assert.Equal(t, int64(300), b.SweepsCash)
	assert.Equal(t, int64(300), b.RedeemableSC)

	b.Set(GoldCoin, 42)
	assert.Equal(t, int64(42), b.Of(GoldCoin).Amount)
}

func TestLadders(t *testing.T) {
	l := DefaultLadders()

	t.Run("Allows", func(t *testing.T) {
		assert.True(t, l.Allows(GoldCoin, 100))
		assert.False(t, l.Allows(GoldCoin, 99))
		assert.True(t, l.Allows(SweepsCash, 20))
		assert.False(t, l.Allows(SweepsCash, 10))
		assert.False(t, l.Allows(Currency("XX"), 100))
	})

	t.Run("ValidateWager", func(t *testing.T) {
		ok := Wager{Amount: 100, Currency: GoldCoin, GameID: "classic-5", IdempotencyKey: "k1"}
		require.NoError(t, l.ValidateWager(ok))

		noKey := ok
		noKey.IdempotencyKey = ""
		assert.ErrorIs(t, l.ValidateWager(noKey), ErrInvalidWager)

		offLadder := ok
		offLadder.Amount = 123
		assert.ErrorIs(t, l.ValidateWager(offLadder), ErrInvalidWager)

		negative := ok
		negative.Amount = -100
		assert.ErrorIs(t, l.ValidateWager(negative), ErrInvalidWager)
	})

	t.Run("NewLaddersRejectsUnsorted", func(t *testing.T) {
		_, err := NewLadders([]int64{10, 5}, []int64{20})
		assert.Error(t, err)
		_, err = NewLadders([]int64{10}, nil)
		assert.Error(t, err)
	})
}

func TestCheckIntegrity(t *testing.T) {
	good := &Balance{UserID: "u1", GoldCoins: 10, SweepsCash: 100, RedeemableSC: 50}
	require.NoError(t, CheckIntegrity("balance", good))

	negative := &Balance{UserID: "u1", GoldCoins: -1}
	assert.ErrorIs(t, CheckIntegrity("balance", negative), ErrDataIntegrity)

	overRedeemable := &Balance{UserID: "u1", SweepsCash: 10, RedeemableSC: 11}
	assert.ErrorIs(t, CheckIntegrity("balance", overRedeemable), ErrDataIntegrity)
}

func TestKindOf(t *testing.T) {
	cases := map[error]Kind{
		fmt.Errorf("settle: %w", ErrInsufficientFunds):       KindInsufficientFunds,
		&LocationBlockedError{Reason: "GEO_TIMEOUT"}:         KindLocationBlocked,
		fmt.Errorf("draw: %w", ErrDeckDepleted):              KindDeckDepleted,
		IntegrityError("balance", errors.New("bad")):         KindDataIntegrity,
		fmt.Errorf("x: %w", ErrRNGUnavailable):               KindRNGUnavailable,
		errors.New("boom"):                                   KindInternal,
		fmt.Errorf("round: %w", ErrInvalidRoundState):        KindInvalidRoundState,
		fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrKYCRequired)): KindKYCRequired,
	}
	for err, want := range cases {
		assert.Equal(t, want, KindOf(err), err.Error())
	}

	assert.True(t, Fatal(fmt.Errorf("x: %w", ErrRNGUnavailable)))
	assert.False(t, Fatal(ErrInsufficientFunds))
}

func TestProfileCanPlaySweeps(t *testing.T) {
	assert.True(t, (&Profile{KYCStatus: KYCVerified}).CanPlaySweeps())
	assert.False(t, (&Profile{KYCStatus: KYCVerified, Guest: true}).CanPlaySweeps())
	assert.False(t, (&Profile{KYCStatus: KYCPending}).CanPlaySweeps())
}
