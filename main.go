package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alexbotov/sweepsrgs/internal/api"
	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/auth"
	"github.com/alexbotov/sweepsrgs/internal/compliance"
	"github.com/alexbotov/sweepsrgs/internal/config"
	"github.com/alexbotov/sweepsrgs/internal/control"
	"github.com/alexbotov/sweepsrgs/internal/database"
	"github.com/alexbotov/sweepsrgs/internal/game"
	"github.com/alexbotov/sweepsrgs/internal/jobs"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/limits"
	"github.com/alexbotov/sweepsrgs/internal/logger"
	"github.com/alexbotov/sweepsrgs/internal/rng"
	"github.com/alexbotov/sweepsrgs/internal/rounds"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
	"github.com/alexbotov/sweepsrgs/pkg/geo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logger.Setup(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
	log.Info("Server stopped")
}

// stores are the persistence backends picked by configuration
type stores struct {
	ledger  ledger.Store
	audit   audit.Sink
	control control.StateStore
	limits  limits.Store
	rounds  rounds.Store
	close   []func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	if cfg.Database.DSN == "" {
		log.Warn("No database configured, ledger and audit trail are in memory")
		s.ledger = ledger.NewMemory()
		s.audit = audit.NewLogSink(0)
		s.limits = limits.NewMemory()
	} else {
		db, err := database.New(ctx, cfg.Database.Driver, cfg.Database.DSN, database.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		s.close = append(s.close, db.Close)
		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		s.ledger = ledger.NewPostgres(db)
		s.audit = audit.NewPostgresSink(db.DB)
		s.control = control.NewPostgresStore(db.DB)
		s.limits = limits.NewPostgresStore(db.DB)
	}

	if cfg.Redis.Addr == "" {
		log.Warn("No Redis configured, open rounds are in memory")
		s.rounds = rounds.NewMemory()
	} else {
		client, err := rounds.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.close = append(s.close, client.Close)
		s.rounds = rounds.NewRedis(client, cfg.Redis.RoundTTL)
	}
	return s, nil
}

func (s *stores) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		if err := s.close[i](); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	entry := logger.Service("sweeps-rgs", api.Version)
	entry.Info("Starting sweepstakes RGS")

	ladders, err := cfg.Ladders()
	if err != nil {
		return err
	}
	proxies, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}
	catalog, err := game.LoadCatalog(cfg.Game.CatalogPath)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	auditSvc := audit.New(st.audit)
	controlSvc := control.New(st.control, auditSvc)
	if err := controlSvc.LoadState(ctx); err != nil {
		return err
	}
	walletSvc := wallet.New(st.ledger, ladders, wallet.Options{})
	limitsSvc := limits.New(st.limits, auditSvc)

	var gate *compliance.Gate
	if cfg.Compliance.GeoURL == "" {
		log.Warn("No geolocation service configured, Sweeps Cash play is refused")
	} else {
		gate = compliance.NewGate(geo.NewClient(&geo.ClientConfig{
			BaseURL:   cfg.Compliance.GeoURL,
			APIKey:    cfg.Compliance.GeoAPIKey,
			APISecret: cfg.Compliance.GeoAPISecret,
			Timeout:   cfg.Compliance.Timeout,
		}), compliance.Policy{
			SupportedCountries: cfg.Compliance.SupportedCountries,
			RestrictedRegions:  cfg.Compliance.RestrictedRegions,
			Timeout:            cfg.Compliance.Timeout,
		})
	}

	secure := rng.New()
	deps := game.Deps{
		Catalog: catalog,
		Wallet:  walletSvc,
		Rounds:  st.rounds,
		RNG:     secure,
		Gate:    gate,
		Control: controlSvc,
		Limits:  limitsSvc,
		Audit:   auditSvc,
	}
	if cfg.Game.DemoRNG {
		deps.Demo = rng.NewDemo()
	}
	engine := game.New(deps)

	guestGrant := ledger.Grant{GoldCoins: cfg.Game.GuestGoldCoins}
	authSvc := auth.New(auth.Config{
		Secret:      cfg.Auth.JWTSecret,
		Issuer:      cfg.Auth.Issuer,
		TokenExpiry: cfg.Auth.TokenExpiry,
		GuestGrant:  guestGrant,
	}, walletSvc, auditSvc)

	handler := api.New(api.Deps{
		Auth:           authSvc,
		Wallet:         walletSvc,
		Engine:         engine,
		Control:        controlSvc,
		Limits:         limitsSvc,
		Audit:          auditSvc,
		RNG:            secure,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: proxies,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	scheduler := jobs.NewScheduler(jobs.Config{
		GuestResetSchedule: cfg.Jobs.GuestResetSchedule,
		GuestIdle:          cfg.Jobs.GuestIdle,
		GuestGrant:         guestGrant,
		StaleRoundSchedule: cfg.Jobs.StaleRoundSchedule,
		StaleRoundAge:      cfg.Jobs.StaleRoundAge,
		RNGCheckSchedule:   cfg.Jobs.RNGCheckSchedule,
	}, walletSvc, engine, secure, auditSvc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entry.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		entry.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	start := time.Now()
	err = g.Wait()
	entry.WithField("uptime", time.Since(start).Round(time.Second).String()).Info("All workers stopped")
	return err
}
