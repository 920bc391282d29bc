// Package auth issues and validates the bearer tokens of players, guests
// and operators
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrForbidden    = errors.New("insufficient role")
)

// Roles
const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

// Claims are carried by every token. Subject is the user id.
type Claims struct {
	Guest bool     `json:"guest,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token grants role
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Config holds the signing parameters and the guest starting grant
type Config struct {
	Secret      string
	Issuer      string
	TokenExpiry time.Duration
	GuestGrant  ledger.Grant
}

// Service provides authentication functionality
type Service struct {
	config Config
	wallet *wallet.Service
	audit  *audit.Service
	now    func() time.Time
}

// New creates a new auth service
func New(cfg Config, walletSvc *wallet.Service, auditSvc *audit.Service) *Service {
	return &Service{
		config: cfg,
		wallet: walletSvc,
		audit:  auditSvc,
		now:    time.Now,
	}
}

// Issue signs a token for userID
func (s *Service) Issue(userID string, guest bool, roles ...string) (string, time.Time, error) {
	now := s.now().UTC()
	expires := now.Add(s.config.TokenExpiry)
	if len(roles) == 0 {
		roles = []string{RolePlayer}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Guest: guest,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken verifies signature, issuer and expiry
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return []byte(s.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !token.Valid || claims.Subject == "":
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// GuestSession is a new guest account and its token
type GuestSession struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Profile   *domain.Profile `json:"profile"`
	Balance   *domain.Balance `json:"balance"`
}

// StartGuest opens a guest account with the Gold Coin starting grant.
// Guests never hold Sweeps Cash.
func (s *Service) StartGuest(ctx context.Context, displayName, ip string) (*GuestSession, error) {
	p := &domain.Profile{
		UserID:      "guest-" + uuid.NewString(),
		DisplayName: displayName,
		KYCStatus:   domain.KYCNone,
		Guest:       true,
	}
	bal, err := s.wallet.OpenAccount(ctx, p, ledger.Grant{GoldCoins: s.config.GuestGrant.GoldCoins})
	if err != nil {
		return nil, err
	}
	token, expires, err := s.Issue(p.UserID, true)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.EventAccountOpened, domain.SeverityInfo,
		fmt.Sprintf("Guest session started: %s", p.UserID),
		map[string]any{"gold_coins": bal.GoldCoins},
		audit.WithUser(p.UserID), audit.WithIP(ip), audit.WithComponent("auth"))

	return &GuestSession{Token: token, ExpiresAt: expires, Profile: p, Balance: bal}, nil
}
