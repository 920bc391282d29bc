package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// runStoreContract exercises the behaviour every Store must share. newStore
// returns an empty store for each subtest.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	seed := func(t *testing.T, s Store, id string, gc, sc int64) {
		t.Helper()
		_, err := s.CreateAccount(ctx, &domain.Profile{UserID: id, KYCStatus: domain.KYCVerified},
			Grant{GoldCoins: gc, SweepsCash: sc})
		require.NoError(t, err)
	}

	wager := func(user, key string, debit, credit int64) *Mutation {
		return &Mutation{
			UserID:         user,
			IdempotencyKey: key,
			GameID:         "lucky-fives",
			Currency:       domain.GoldCoin,
			Debit:          debit,
			Credit:         credit,
			Result:         domain.ResultWin,
			AuditRef:       "00112233445566778899aabbccddeeff",
			Outcome:        json.RawMessage(`{"total_win":80}`),
		}
	}

	t.Run("ApplyDebitsAndCredits", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)

		r, err := s.Apply(ctx, wager("u1", "k1", 100, 80))
		require.NoError(t, err)
		assert.False(t, r.Replayed)
		assert.Equal(t, int64(980), r.Balance.GoldCoins)
		assert.Equal(t, int64(100), r.Entry.Debit)
		assert.Equal(t, int64(80), r.Entry.Credit)
		assert.Equal(t, int64(980), r.Entry.BalanceAfter)

		bal, err := s.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(980), bal.GoldCoins)

		hist, err := s.History(ctx, domain.HistoryFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, "k1", hist[0].ActivityID)
		assert.JSONEq(t, `{"total_win":80}`, string(hist[0].Outcome))
	})

	t.Run("ReplayReturnsOriginalReceipt", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)

		first, err := s.Apply(ctx, wager("u1", "k1", 100, 80))
		require.NoError(t, err)
		second, err := s.Apply(ctx, wager("u1", "k1", 100, 80))
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.Entry.ID, second.Entry.ID)
		assert.Equal(t, first.Balance.GoldCoins, second.Balance.GoldCoins)

		looked, err := s.Lookup(ctx, "u1", "k1")
		require.NoError(t, err)
		assert.Equal(t, first.Entry.ID, looked.Entry.ID)

		_, err = s.Lookup(ctx, "u1", "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		hist, err := s.History(ctx, domain.HistoryFilter{UserID: "u1"})
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})

	t.Run("InsufficientFundsLeavesStateUntouched", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 50, 0)

		_, err := s.Apply(ctx, wager("u1", "k1", 100, 0))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		bal, err := s.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), bal.GoldCoins)

		hist, err := s.History(ctx, domain.HistoryFilter{UserID: "u1"})
		require.NoError(t, err)
		assert.Empty(t, hist)
	})

	t.Run("SweepsWinningsAreRedeemable", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 0, 1000)

		m := wager("u1", "k1", 100, 250)
		m.Currency = domain.SweepsCash
		r, err := s.Apply(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, int64(1150), r.Balance.SweepsCash)
		assert.Equal(t, int64(250), r.Balance.RedeemableSC)

		m = wager("u1", "k2", 1150, 0)
		m.Currency = domain.SweepsCash
		r, err = s.Apply(ctx, m)
		require.NoError(t, err)
		assert.Zero(t, r.Balance.SweepsCash)
		assert.Zero(t, r.Balance.RedeemableSC)
	})

	t.Run("FreeSpinsGrantConsumeAndRetrigger", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)

		m := wager("u1", "trigger", 100, 0)
		m.FreeSpinsWon = 10
		m.BonusWager = 100
		r, err := s.Apply(ctx, m)
		require.NoError(t, err)
		require.NotNil(t, r.Bonus)
		assert.Equal(t, 10, r.Bonus.Remaining)

		spin := wager("u1", "spin-1", 0, 40)
		spin.FreeSpin = true
		r, err = s.Apply(ctx, spin)
		require.NoError(t, err)
		assert.Equal(t, 9, r.Bonus.Remaining)
		assert.Equal(t, int64(940), r.Balance.GoldCoins)

		spin = wager("u1", "spin-2", 0, 0)
		spin.FreeSpin = true
		spin.FreeSpinsWon = 10
		r, err = s.Apply(ctx, spin)
		require.NoError(t, err)
		assert.Equal(t, 18, r.Bonus.Remaining)

		b, err := s.Bonus(ctx, "u1", "lucky-fives")
		require.NoError(t, err)
		assert.Equal(t, 18, b.Remaining)
		assert.Equal(t, int64(100), b.Wager)
	})

	t.Run("FreeSpinWithoutBonusFails", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)

		spin := wager("u1", "spin-1", 0, 0)
		spin.FreeSpin = true
		_, err := s.Apply(ctx, spin)
		assert.ErrorIs(t, err, domain.ErrNoFreeSpins)
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for attempt := 0; attempt < 5; attempt++ {
					_, err := s.Apply(ctx, wager("u1", fmt.Sprintf("k%d", i), 50, 0))
					if err == nil {
						mu.Lock()
						ok++
						mu.Unlock()
						return
					}
					if !errors.Is(err, ErrTransient) {
						assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
						return
					}
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 20, ok)
		bal, err := s.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, bal.GoldCoins)
	})

	t.Run("HistoryFiltersAndLimits", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)

		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			m := wager("u1", fmt.Sprintf("k%d", i), 10, 0)
			m.At = base.Add(time.Duration(i) * time.Hour)
			_, err := s.Apply(ctx, m)
			require.NoError(t, err)
		}

		all, err := s.History(ctx, domain.HistoryFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "k4", all[0].ActivityID)

		from := base.Add(time.Hour)
		to := base.Add(3 * time.Hour)
		window, err := s.History(ctx, domain.HistoryFilter{UserID: "u1", From: &from, To: &to, Limit: 2})
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, "k3", window[0].ActivityID)
		assert.Equal(t, "k2", window[1].ActivityID)
	})

	t.Run("CreateAccountTwiceFails", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 1000, 0)
		_, err := s.CreateAccount(ctx, &domain.Profile{UserID: "u1"}, Grant{})
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("KYCStatus", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "u1", 0, 0)

		require.NoError(t, s.SetKYCStatus(ctx, "u1", domain.KYCRejected))
		p, err := s.Profile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.KYCRejected, p.KYCStatus)
		assert.False(t, p.CanPlaySweeps())

		assert.ErrorIs(t, s.SetKYCStatus(ctx, "ghost", domain.KYCVerified), domain.ErrNotFound)
	})

	t.Run("ResetStaleGuests", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC()
		for _, id := range []string{"guest-old", "guest-new"} {
			_, err := s.CreateAccount(ctx, &domain.Profile{UserID: id, Guest: true}, Grant{GoldCoins: 10000})
			require.NoError(t, err)
		}

		m := wager("guest-old", "k1", 500, 0)
		m.At = now.Add(-48 * time.Hour)
		_, err := s.Apply(ctx, m)
		require.NoError(t, err)
		m = wager("guest-new", "k1", 500, 0)
		m.At = now
		_, err = s.Apply(ctx, m)
		require.NoError(t, err)

		n, err := s.ResetStaleGuests(ctx, now.Add(-24*time.Hour), Grant{GoldCoins: 10000})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		bal, err := s.Balance(ctx, "guest-old")
		require.NoError(t, err)
		assert.Equal(t, int64(10000), bal.GoldCoins)
		bal, err = s.Balance(ctx, "guest-new")
		require.NoError(t, err)
		assert.Equal(t, int64(9500), bal.GoldCoins)

		n, err = s.ResetStaleGuests(ctx, now.Add(-24*time.Hour), Grant{GoldCoins: 10000})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

