package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

func TestLogSink(t *testing.T) {
	ctx := context.Background()
	svc := New(NewLogSink(3))

	require.NoError(t, svc.Log(ctx, EventBigWin, domain.SeverityInfo, "big win", map[string]int64{"win": 5000},
		WithUser("u1"), WithIP("203.0.113.7")))
	require.NoError(t, svc.Log(ctx, EventLocationDenied, domain.SeverityWarning, "denied", nil, WithUser("u2")))
	require.NoError(t, svc.Log(ctx, EventRNGFailure, domain.SeverityCritical, "entropy", nil, WithComponent("rng")))

	events, err := svc.Events(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventRNGFailure, events[0].Type)
	assert.Equal(t, "rng", events[0].Component)
	assert.NotEmpty(t, events[0].ID)

	mine, err := svc.Events(ctx, &EventFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.JSONEq(t, `{"win":5000}`, string(mine[0].Data))
	assert.Equal(t, "203.0.113.7", mine[0].IPAddress)
	assert.Equal(t, "rgs", mine[0].Component)

	// capacity drops the oldest
	require.NoError(t, svc.Log(ctx, EventSystemError, domain.SeverityError, "boom", nil))
	all, err := svc.Events(ctx, &EventFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	future, err := svc.Events(ctx, &EventFilter{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}
