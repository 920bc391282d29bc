package rounds

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	wager := domain.NewMoney(100, domain.GoldCoin)

	t.Run("OneOpenRoundPerTable", func(t *testing.T) {
		s := newStore(t)
		r := NewRecord("u1", "blackjack", domain.GameTypeBlackjack, wager)
		require.NoError(t, s.Create(ctx, r))

		err := s.Create(ctx, NewRecord("u1", "blackjack", domain.GameTypeBlackjack, wager))
		assert.ErrorIs(t, err, domain.ErrRoundInProgress)

		// other table and other player are independent
		require.NoError(t, s.Create(ctx, NewRecord("u1", "jacks-or-better", domain.GameTypePoker, wager)))
		require.NoError(t, s.Create(ctx, NewRecord("u2", "blackjack", domain.GameTypeBlackjack, wager)))

		active, err := s.Active(ctx, "u1", "blackjack")
		require.NoError(t, err)
		assert.Equal(t, r.ID, active.ID)

		require.NoError(t, s.Delete(ctx, r))
		_, err = s.Active(ctx, "u1", "blackjack")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		require.NoError(t, s.Create(ctx, NewRecord("u1", "blackjack", domain.GameTypeBlackjack, wager)))
	})

	t.Run("UpdateRoundTripsState", func(t *testing.T) {
		s := newStore(t)
		r := NewRecord("u1", "blackjack", domain.GameTypeBlackjack, wager)
		r.Stage = "active"
		require.NoError(t, s.Create(ctx, r))

		r.Stage = "player_bust"
		r.State = json.RawMessage(`{"stage":"player_bust"}`)
		require.NoError(t, s.Update(ctx, r))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "player_bust", got.Stage)
		assert.JSONEq(t, `{"stage":"player_bust"}`, string(got.State))
		assert.Equal(t, wager, got.Wager)

		require.NoError(t, s.Delete(ctx, r))
		_, err = s.Get(ctx, r.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.Update(ctx, r), domain.ErrNotFound)
	})

	t.Run("StaleRounds", func(t *testing.T) {
		s := newStore(t)
		old := NewRecord("u1", "blackjack", domain.GameTypeBlackjack, wager)
		old.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
		require.NoError(t, s.Create(ctx, old))
		require.NoError(t, s.Create(ctx, NewRecord("u2", "blackjack", domain.GameTypeBlackjack, wager)))

		stale, err := s.Stale(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)
	})
}

func TestRecordOwnership(t *testing.T) {
	r := NewRecord("u1", "blackjack", domain.GameTypeBlackjack, domain.NewMoney(100, domain.GoldCoin))
	assert.NoError(t, r.Owned("u1"))
	assert.ErrorIs(t, r.Owned("u2"), domain.ErrInvalidRoundState)
	assert.Equal(t, r.ID+":deal", r.Key("deal"))
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping redis test in short mode")
	}
	addr := os.Getenv("RGS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := Dial(context.Background(), addr, "", 15)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	runStoreContract(t, func(t *testing.T) Store {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return NewRedis(client, time.Hour)
	})
}
