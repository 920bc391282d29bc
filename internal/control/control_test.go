package control

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// memoryState is a StateStore kept in a map
type memoryState struct {
	st   State
	fail error
}

func newMemoryState() *memoryState {
	return &memoryState{st: State{GamingEnabled: true}}
}

func (m *memoryState) SaveGaming(_ context.Context, enabled bool, reason, by string, at time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	m.st.GamingEnabled = enabled
	if enabled {
		m.st.DisabledAt, m.st.DisabledBy, m.st.DisabledReason = nil, "", ""
		return nil
	}
	m.st.DisabledAt, m.st.DisabledBy, m.st.DisabledReason = &at, by, reason
	return nil
}

func (m *memoryState) SaveGame(_ context.Context, gameID string, disabled bool, _, _ string, _ time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	games := m.st.DisabledGames[:0:0]
	for _, id := range m.st.DisabledGames {
		if id != gameID {
			games = append(games, id)
		}
	}
	if disabled {
		games = append(games, gameID)
	}
	sort.Strings(games)
	m.st.DisabledGames = games
	return nil
}

func (m *memoryState) Load(context.Context) (*State, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	st := m.st
	return &st, nil
}

func setupTestControl(t *testing.T, store StateStore) (*Service, *audit.Service) {
	t.Helper()
	auditSvc := audit.New(audit.NewLogSink(0))
	return New(store, auditSvc), auditSvc
}

func TestGamingSwitch(t *testing.T) {
	ctx := context.Background()
	svc, auditSvc := setupTestControl(t, nil)

	assert.True(t, svc.IsGamingEnabled())

	require.NoError(t, svc.DisableAllGaming(ctx, "Maintenance", "ops@example.com"))
	assert.False(t, svc.IsGamingEnabled())
	assert.ErrorIs(t, svc.CheckAccess("lucky-fives"), domain.ErrGameDisabled)

	status := svc.GetSystemStatus()
	assert.False(t, status.GamingEnabled)
	assert.Equal(t, "Maintenance", status.DisabledReason)
	assert.Equal(t, "ops@example.com", status.DisabledBy)
	require.NotNil(t, status.DisabledAt)

	require.NoError(t, svc.EnableAllGaming(ctx, "ops@example.com"))
	assert.True(t, svc.IsGamingEnabled())
	assert.NoError(t, svc.CheckAccess("lucky-fives"))
	assert.Nil(t, svc.GetSystemStatus().DisabledAt)

	events, err := auditSvc.Events(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventGamingEnabled, events[0].Type)
	assert.Equal(t, audit.EventGamingDisabled, events[1].Type)
	assert.Equal(t, domain.SeverityCritical, events[1].Severity)
}

func TestGameSwitch(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupTestControl(t, nil)

	require.NoError(t, svc.DisableGame(ctx, "lucky-fives", "Paytable review", "ops"))
	require.NoError(t, svc.DisableGame(ctx, "classic-21", "Dealer fix", "ops"))

	assert.False(t, svc.IsGameEnabled("lucky-fives"))
	assert.True(t, svc.IsGameEnabled("plinko-drop"))
	assert.ErrorIs(t, svc.CheckAccess("classic-21"), domain.ErrGameDisabled)
	assert.NoError(t, svc.CheckAccess("plinko-drop"))
	assert.Equal(t, []string{"classic-21", "lucky-fives"}, svc.GetSystemStatus().DisabledGames)

	require.NoError(t, svc.EnableGame(ctx, "lucky-fives", "ops"))
	assert.True(t, svc.IsGameEnabled("lucky-fives"))
	assert.False(t, svc.IsGameEnabled("classic-21"))
}

func TestPersistedState(t *testing.T) {
	ctx := context.Background()

	t.Run("SurvivesRestart", func(t *testing.T) {
		store := newMemoryState()
		svc, auditSvc := setupTestControl(t, store)
		require.NoError(t, svc.DisableAllGaming(ctx, "Incident", "ops"))
		require.NoError(t, svc.DisableGame(ctx, "lucky-fives", "Paytable review", "ops"))

		restarted := New(store, auditSvc)
		require.NoError(t, restarted.LoadState(ctx))
		assert.False(t, restarted.IsGamingEnabled())
		assert.False(t, restarted.IsGameEnabled("lucky-fives"))
		assert.Equal(t, "Incident", restarted.GetSystemStatus().DisabledReason)
	})

	t.Run("StoreFailureKeepsSwitch", func(t *testing.T) {
		store := newMemoryState()
		store.fail = errors.New("connection refused")
		svc, _ := setupTestControl(t, store)

		assert.Error(t, svc.DisableAllGaming(ctx, "Incident", "ops"))
		assert.True(t, svc.IsGamingEnabled())
		assert.Error(t, svc.DisableGame(ctx, "lucky-fives", "x", "ops"))
		assert.True(t, svc.IsGameEnabled("lucky-fives"))
		assert.Error(t, svc.LoadState(ctx))
	})

	t.Run("NilStoreLoadsNothing", func(t *testing.T) {
		svc, _ := setupTestControl(t, nil)
		require.NoError(t, svc.LoadState(ctx))
		assert.True(t, svc.IsGamingEnabled())
	})
}
