package wallet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
)

const seed = "00112233445566778899aabbccddeeff"

func setupTestWallet(t *testing.T, gc, sc int64) (*Service, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	_, err := store.CreateAccount(context.Background(),
		&domain.Profile{UserID: "player-1", KYCStatus: domain.KYCVerified},
		ledger.Grant{GoldCoins: gc, SweepsCash: sc})
	require.NoError(t, err)
	return New(store, domain.DefaultLadders(), Options{RetryDelay: time.Millisecond}), store
}

func play(key string, amount, win int64) Play {
	return Play{
		UserID: "player-1",
		Wager: domain.Wager{
			Amount:         amount,
			Currency:       domain.GoldCoin,
			GameID:         "lucky-fives",
			IdempotencyKey: key,
		},
		Outcome: &domain.Outcome{GameID: "lucky-fives", TotalWin: win, AuditSeed: seed},
	}
}

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("DebitAndCreditInOneEntry", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 1000, 0)

		r, err := svc.Settle(ctx, play("spin-1", 100, 80))
		require.NoError(t, err)
		assert.Equal(t, int64(980), r.Balance.GoldCoins)

		hist, err := svc.History(ctx, domain.HistoryFilter{UserID: "player-1"})
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, int64(100), hist[0].Debit)
		assert.Equal(t, int64(80), hist[0].Credit)
		assert.Equal(t, domain.ResultWin, hist[0].Result)
		assert.Equal(t, seed, hist[0].AuditRef)
		assert.Len(t, hist[0].OutcomeHash, 64)
	})

	t.Run("ReplayDoesNotMutate", func(t *testing.T) {
		svc, store := setupTestWallet(t, 1000, 0)

		first, err := svc.Settle(ctx, play("spin-1", 100, 0))
		require.NoError(t, err)
		again, err := svc.Settle(ctx, play("spin-1", 100, 0))
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, first.Entry.ID, again.Entry.ID)

		// a fresh service has no cache and relies on the store
		other := New(store, domain.DefaultLadders(), Options{})
		third, err := other.Settle(ctx, play("spin-1", 100, 0))
		require.NoError(t, err)
		assert.True(t, third.Replayed)

		bal, err := svc.GetBalance(ctx, "player-1")
		require.NoError(t, err)
		assert.Equal(t, int64(900), bal.GoldCoins)
	})

	t.Run("RejectsOffLadderWager", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 1000, 0)
		_, err := svc.Settle(ctx, play("spin-1", 15, 0))
		assert.ErrorIs(t, err, domain.ErrInvalidWager)

		hist, err := svc.History(ctx, domain.HistoryFilter{UserID: "player-1"})
		require.NoError(t, err)
		assert.Empty(t, hist)
	})

	t.Run("RejectsMalformedOutcome", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 1000, 0)
		p := play("spin-1", 100, 0)
		p.Outcome.AuditSeed = "not-hex"
		_, err := svc.Settle(ctx, p)
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)

		p = play("spin-2", 100, 0)
		p.Outcome.GameID = "other"
		_, err = svc.Settle(ctx, p)
		assert.ErrorIs(t, err, domain.ErrDataIntegrity)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 50, 0)
		_, err := svc.Settle(ctx, play("spin-1", 100, 0))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, domain.KindInsufficientFunds, domain.KindOf(err))
	})

	t.Run("FreeSpinsUseNoBalance", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 1000, 0)
		p := play("spin-1", 100, 0)
		p.Outcome.FreeSpinsWon = 10
		r, err := svc.Settle(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 10, r.Bonus.Remaining)

		free := play("free-1", 100, 30)
		free.FreeSpin = true
		r, err = svc.Settle(ctx, free)
		require.NoError(t, err)
		assert.Equal(t, int64(930), r.Balance.GoldCoins)
		assert.Equal(t, 9, r.Bonus.Remaining)
		assert.True(t, r.Entry.FreeSpin)
		assert.Zero(t, r.Entry.Debit)
	})
}

func TestSettleConcurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("DistinctKeysNeverOverdraw", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 1000, 0)

		var wg sync.WaitGroup
		var ok, broke atomic.Int32
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.Settle(ctx, play(fmt.Sprintf("spin-%d", i), 100, 0))
				switch {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, domain.ErrInsufficientFunds):
					broke.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(10), ok.Load())
		assert.Equal(t, int32(40), broke.Load())
		bal, err := svc.GetBalance(ctx, "player-1")
		require.NoError(t, err)
		assert.Zero(t, bal.GoldCoins)
	})

	t.Run("SameKeyAppliesOnce", func(t *testing.T) {
		svc, _ := setupTestWallet(t, 1000, 0)

		var wg sync.WaitGroup
		var applied atomic.Int32
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r, err := svc.Settle(ctx, play("spin-1", 100, 50))
				if assert.NoError(t, err) && !r.Replayed {
					applied.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), applied.Load())
		bal, err := svc.GetBalance(ctx, "player-1")
		require.NoError(t, err)
		assert.Equal(t, int64(950), bal.GoldCoins)
	})
}

// flakyStore fails the first n applications with a transient error
type flakyStore struct {
	ledger.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) Apply(ctx context.Context, m *ledger.Mutation) (*ledger.Receipt, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", ledger.ErrTransient)
	}
	return f.Store.Apply(ctx, m)
}

func TestSettleRetries(t *testing.T) {
	ctx := context.Background()
	_, mem := setupTestWallet(t, 1000, 0)

	t.Run("TransientFailuresAreRetried", func(t *testing.T) {
		flaky := &flakyStore{Store: mem}
		flaky.failures.Store(2)
		svc := New(flaky, domain.DefaultLadders(), Options{RetryDelay: time.Millisecond})

		r, err := svc.Settle(ctx, play("spin-1", 100, 0))
		require.NoError(t, err)
		assert.False(t, r.Replayed)
		assert.Equal(t, int32(3), flaky.calls.Load())
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		flaky := &flakyStore{Store: mem}
		flaky.failures.Store(100)
		svc := New(flaky, domain.DefaultLadders(), Options{MaxRetries: 2, RetryDelay: time.Millisecond})

		_, err := svc.Settle(ctx, play("spin-2", 100, 0))
		assert.ErrorIs(t, err, ledger.ErrTransient)
		assert.Equal(t, int32(3), flaky.calls.Load())
	})

	t.Run("BusinessErrorsAreNotRetried", func(t *testing.T) {
		flaky := &flakyStore{Store: mem}
		svc := New(flaky, domain.DefaultLadders(), Options{RetryDelay: time.Millisecond})

		_, err := svc.Settle(ctx, play("spin-3", 5000, 0))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, int32(1), flaky.calls.Load())
	})
}

func TestRoundEntries(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestWallet(t, 1000, 0)
	stake := domain.NewMoney(100, domain.GoldCoin)

	_, err := svc.Debit(ctx, Entry{
		UserID: "player-1", Key: "round-1:deal", ActivityID: "round-1",
		GameID: "blackjack", Amount: stake, Result: domain.ResultWager,
	})
	require.NoError(t, err)

	r, err := svc.Credit(ctx, Entry{
		UserID: "player-1", Key: "round-1:settle", ActivityID: "round-1",
		GameID: "blackjack", Amount: domain.NewMoney(250, domain.GoldCoin), Result: domain.ResultWin,
		AuditRef: seed, Outcome: map[string]string{"stage": "player_win"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1150), r.Balance.GoldCoins)
	assert.NotEmpty(t, r.Entry.OutcomeHash)

	hist, err := svc.History(ctx, domain.HistoryFilter{UserID: "player-1"})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	for _, h := range hist {
		assert.Equal(t, "round-1", h.ActivityID)
	}

	_, err = svc.Debit(ctx, Entry{UserID: "player-1", Key: "round-1:bad", Amount: domain.NewMoney(-1, domain.GoldCoin), Result: domain.ResultWager})
	assert.ErrorIs(t, err, domain.ErrInvalidWager)
}

func TestDigestIsStable(t *testing.T) {
	o := &domain.Outcome{GameID: "plinko", TotalWin: 50, AuditSeed: seed}
	p1, h1, err := Digest(o)
	require.NoError(t, err)
	p2, h2, err := Digest(o)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, h1, h2)

	o.TotalWin = 51
	_, h3, err := Digest(o)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
