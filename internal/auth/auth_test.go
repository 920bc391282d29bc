package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
)

func setupTestAuth(t *testing.T) (*Service, *wallet.Service, *audit.Service) {
	t.Helper()
	auditSvc := audit.New(audit.NewLogSink(0))
	w := wallet.New(ledger.NewMemory(), domain.DefaultLadders(), wallet.Options{})
	svc := New(Config{
		Secret:      "test-secret-at-least-16",
		Issuer:      "sweeps-rgs",
		TokenExpiry: time.Hour,
		GuestGrant:  ledger.Grant{GoldCoins: 10000, SweepsCash: 500},
	}, w, auditSvc)
	return svc, w, auditSvc
}

func TestIssueAndValidate(t *testing.T) {
	svc, _, _ := setupTestAuth(t)

	token, expires, err := svc.Issue("player-1", false, RolePlayer, RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.Subject)
	assert.False(t, claims.Guest)
	assert.True(t, claims.HasRole(RoleAdmin))
	assert.NotEmpty(t, claims.ID)

	token, _, err = svc.Issue("player-2", false)
	require.NoError(t, err)
	claims, err = svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, []string{RolePlayer}, claims.Roles)
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestValidateRejects(t *testing.T) {
	svc, _, _ := setupTestAuth(t)

	t.Run("Expired", func(t *testing.T) {
		token, _, err := svc.Issue("player-1", false)
		require.NoError(t, err)
		svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { svc.now = time.Now }()
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := New(Config{Secret: "another-secret-of-16", Issuer: "sweeps-rgs", TokenExpiry: time.Hour}, nil, nil)
		token, _, err := other.Issue("player-1", false)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		other := New(Config{Secret: "test-secret-at-least-16", Issuer: "elsewhere", TokenExpiry: time.Hour}, nil, nil)
		token, _, err := other.Issue("player-1", false)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("UnsignedToken", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "player-1",
				Issuer:    "sweeps-rgs",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestStartGuest(t *testing.T) {
	ctx := context.Background()
	svc, w, auditSvc := setupTestAuth(t)

	sess, err := svc.StartGuest(ctx, "Lucky", "198.51.100.7")
	require.NoError(t, err)
	assert.True(t, sess.Profile.Guest)
	assert.Equal(t, int64(10000), sess.Balance.GoldCoins)
	assert.Zero(t, sess.Balance.SweepsCash)

	claims, err := svc.ValidateToken(sess.Token)
	require.NoError(t, err)
	assert.True(t, claims.Guest)
	assert.Equal(t, sess.Profile.UserID, claims.Subject)

	prof, err := w.GetProfile(ctx, sess.Profile.UserID)
	require.NoError(t, err)
	assert.False(t, prof.CanPlaySweeps())

	events, err := auditSvc.Events(ctx, &audit.EventFilter{Type: audit.EventAccountOpened})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "198.51.100.7", events[0].IPAddress)
}
