// Package config provides configuration management for the RGS
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// Prefix of every environment variable, e.g. RGS_SERVER_PORT
const Prefix = "RGS"

// Config holds all configuration for the RGS
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Game       GameConfig
	Compliance ComplianceConfig
	Log        LogConfig
	Jobs       JobsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	// TrustedProxies are the addresses or CIDR ranges whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty trusts no one.
	TrustedProxies  []string      `envconfig:"TRUSTED_PROXIES"`
}

// DatabaseConfig holds database configuration. An empty DSN keeps the
// ledger in memory.
type DatabaseConfig struct {
	Driver          string        `envconfig:"DRIVER" default:"postgres"`
	DSN             string        `envconfig:"DSN"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	Migrate         bool          `envconfig:"MIGRATE" default:"true"`
}

// RedisConfig holds the round store connection. An empty Addr keeps open
// rounds in memory.
type RedisConfig struct {
	Addr     string        `envconfig:"ADDR"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	RoundTTL time.Duration `envconfig:"ROUND_TTL" default:"24h"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `envconfig:"JWT_SECRET" default:"rgs-dev-secret-change-in-production"`
	Issuer      string        `envconfig:"ISSUER" default:"sweeps-rgs"`
	TokenExpiry time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`
}

// GameConfig holds game-related configuration
type GameConfig struct {
	CatalogPath    string  `envconfig:"CATALOG"`
	GCLadder       []int64 `envconfig:"GC_LADDER"`
	SCLadder       []int64 `envconfig:"SC_LADDER"`
	DemoRNG        bool    `envconfig:"DEMO_RNG" default:"true"`
	GuestGoldCoins int64   `envconfig:"GUEST_GOLD_COINS" default:"10000"`
}

// ComplianceConfig points the location gate at the geolocation service. An
// empty URL refuses every Sweeps Cash wager.
type ComplianceConfig struct {
	GeoURL             string        `envconfig:"GEO_URL"`
	GeoAPIKey          string        `envconfig:"GEO_API_KEY"`
	GeoAPISecret       string        `envconfig:"GEO_API_SECRET"`
	Timeout            time.Duration `envconfig:"TIMEOUT" default:"5s"`
	SupportedCountries []string      `envconfig:"SUPPORTED_COUNTRIES" default:"US"`
	RestrictedRegions  []string      `envconfig:"RESTRICTED_REGIONS" default:"WA,ID,NV,MI"`
}

// LogConfig selects the log level and format
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// JobsConfig schedules housekeeping
type JobsConfig struct {
	GuestResetSchedule string        `envconfig:"GUEST_RESET_SCHEDULE" default:"@every 1h"`
	GuestIdle          time.Duration `envconfig:"GUEST_IDLE" default:"24h"`
	StaleRoundSchedule string        `envconfig:"STALE_ROUND_SCHEDULE" default:"@every 5m"`
	StaleRoundAge      time.Duration `envconfig:"STALE_ROUND_AGE" default:"30m"`
	RNGCheckSchedule   string        `envconfig:"RNG_CHECK_SCHEDULE" default:"@every 15m"`
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Failed to read .env file")
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and cross-field rules
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("RGS_SERVER_PORT must be set")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("RGS_SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if _, err := c.TrustedProxies(); err != nil {
		return err
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("RGS_AUTH_JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenExpiry <= 0 {
		return errors.New("RGS_AUTH_TOKEN_EXPIRY must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("RGS_DATABASE_MAX_IDLE_CONNS exceeds RGS_DATABASE_MAX_OPEN_CONNS")
	}
	if c.Game.GuestGoldCoins < 0 {
		return errors.New("RGS_GAME_GUEST_GOLD_COINS must not be negative")
	}
	if _, err := c.Ladders(); err != nil {
		return err
	}
	if c.Compliance.Timeout <= 0 || c.Compliance.Timeout > 30*time.Second {
		return errors.New("RGS_COMPLIANCE_TIMEOUT must be between 0 and 30s")
	}
	if len(c.Compliance.SupportedCountries) == 0 {
		return errors.New("RGS_COMPLIANCE_SUPPORTED_COUNTRIES must not be empty")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("RGS_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("RGS_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	if c.Jobs.GuestIdle <= 0 || c.Jobs.StaleRoundAge <= 0 {
		return errors.New("RGS_JOBS_GUEST_IDLE and RGS_JOBS_STALE_ROUND_AGE must be positive")
	}
	return nil
}

// Ladders returns the configured denomination ladders, falling back to the
// built-in ones per currency
func (c *Config) Ladders() (domain.Ladders, error) {
	def := domain.DefaultLadders()
	gc, sc := c.Game.GCLadder, c.Game.SCLadder
	if len(gc) == 0 {
		gc = def.GC
	}
	if len(sc) == 0 {
		sc = def.SC
	}
	l, err := domain.NewLadders(gc, sc)
	if err != nil {
		return domain.Ladders{}, fmt.Errorf("invalid ladder: %w", err)
	}
	return l, nil
}

// TrustedProxies parses Server.TrustedProxies. A bare address is a single
// host prefix.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, entry := range c.Server.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("RGS_SERVER_TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("RGS_SERVER_TRUSTED_PROXIES: %w", err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}
