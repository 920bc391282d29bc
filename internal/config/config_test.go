package config

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Database.DSN)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, int64(10000), cfg.Game.GuestGoldCoins)
	assert.Equal(t, []string{"US"}, cfg.Compliance.SupportedCountries)
	assert.Equal(t, 5*time.Second, cfg.Compliance.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.GuestIdle)

	proxies, err := cfg.TrustedProxies()
	require.NoError(t, err)
	assert.Empty(t, proxies)

	l, err := cfg.Ladders()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultGCLadder, l.GC)
	assert.Equal(t, domain.DefaultSCLadder, l.SC)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RGS_SERVER_PORT", "9090")
	t.Setenv("RGS_GAME_GC_LADDER", "5,10,25")
	t.Setenv("RGS_COMPLIANCE_RESTRICTED_REGIONS", "WA,NV")
	t.Setenv("RGS_LOG_FORMAT", "text")
	t.Setenv("RGS_SERVER_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"WA", "NV"}, cfg.Compliance.RestrictedRegions)

	proxies, err := cfg.TrustedProxies()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
	}, proxies)

	l, err := cfg.Ladders()
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 10, 25}, l.GC)
	assert.Equal(t, domain.DefaultSCLadder, l.SC)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"ShortSecret", map[string]string{"RGS_AUTH_JWT_SECRET": "short"}},
		{"DescendingLadder", map[string]string{"RGS_GAME_SC_LADDER": "100,50"}},
		{"SlowGate", map[string]string{"RGS_COMPLIANCE_TIMEOUT": "1m"}},
		{"BadLevel", map[string]string{"RGS_LOG_LEVEL": "loud"}},
		{"BadFormat", map[string]string{"RGS_LOG_FORMAT": "xml"}},
		{"IdlePool", map[string]string{"RGS_DATABASE_MAX_IDLE_CONNS": "50"}},
		{"BadProxy", map[string]string{"RGS_SERVER_TRUSTED_PROXIES": "10.0.0.0/33"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
