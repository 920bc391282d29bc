// Package jobs runs the periodic housekeeping of the RGS: guest balance
// resets, stale round expiry and RNG health checks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/game"
	"github.com/alexbotov/sweepsrgs/internal/ledger"
	"github.com/alexbotov/sweepsrgs/internal/metrics"
	"github.com/alexbotov/sweepsrgs/internal/rng"
	"github.com/alexbotov/sweepsrgs/internal/wallet"
)

// Job names, used in logs and metrics
const (
	JobGuestReset  = "guest_reset"
	JobStaleRounds = "stale_rounds"
	JobRNGCheck    = "rng_check"
)

// Config holds cron specs and ages. An empty schedule disables its job.
type Config struct {
	GuestResetSchedule string
	GuestIdle          time.Duration
	GuestGrant         ledger.Grant
	StaleRoundSchedule string
	StaleRoundAge      time.Duration
	RNGCheckSchedule   string
}

// Scheduler runs background jobs
type Scheduler struct {
	cron   *cron.Cron
	config Config
	wallet *wallet.Service
	engine *game.Engine
	rng    *rng.Service
	audit  *audit.Service
	now    func() time.Time
}

// NewScheduler creates a scheduler on UTC. A run still in progress when its
// next tick fires is skipped.
func NewScheduler(cfg Config, walletSvc *wallet.Service, engine *game.Engine, rngSvc *rng.Service, auditSvc *audit.Service) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{
		cron:   c,
		config: cfg,
		wallet: walletSvc,
		engine: engine,
		rng:    rngSvc,
		audit:  auditSvc,
		now:    time.Now,
	}
}

// Start registers every scheduled job and starts the cron loop. Jobs run
// with ctx and stop receiving new ticks once Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobGuestReset, s.config.GuestResetSchedule, s.ResetGuests},
		{JobStaleRounds, s.config.StaleRoundSchedule, s.ExpireRounds},
		{JobRNGCheck, s.config.RNGCheckSchedule, s.CheckRNG},
	}
	for _, j := range jobs {
		if j.spec == "" {
			log.WithField("job", j.name).Info("Job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(ctx, j.name, j.run)); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", j.spec, j.name, err)
		}
	}

	s.cron.Start()
	log.WithField("jobs", len(s.cron.Entries())).Info("Job scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Job scheduler stopped")
}

func (s *Scheduler) wrap(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		start := time.Now()
		entry := log.WithField("job", name)
		entry.Debug("Job started")
		if err := run(ctx); err != nil {
			metrics.JobRuns.WithLabelValues(name, "error").Inc()
			entry.WithError(err).Error("Job failed")
			return
		}
		metrics.JobRuns.WithLabelValues(name, "ok").Inc()
		entry.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Job finished")
	}
}

// ResetGuests restores the starting grant of guests idle for GuestIdle
func (s *Scheduler) ResetGuests(ctx context.Context) error {
	cutoff := s.now().Add(-s.config.GuestIdle)
	n, err := s.wallet.ResetStaleGuests(ctx, cutoff, s.config.GuestGrant)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	log.WithField("guests", n).Info("Reset idle guest balances")
	s.audit.Log(ctx, audit.EventGuestReset, domain.SeverityInfo,
		fmt.Sprintf("Reset %d idle guest balances", n),
		map[string]any{"guests": n, "idle_since": cutoff, "gold_coins": s.config.GuestGrant.GoldCoins},
		audit.WithComponent("jobs"))
	return nil
}

// ExpireRounds closes table rounds untouched for StaleRoundAge
func (s *Scheduler) ExpireRounds(ctx context.Context) error {
	n, err := s.engine.ExpireStale(ctx, s.now().Add(-s.config.StaleRoundAge))
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("rounds", n).Info("Expired stale rounds")
	}
	return nil
}

// CheckRNG runs the statistical self-test of the secure generator
func (s *Scheduler) CheckRNG(ctx context.Context) error {
	res, err := s.rng.HealthCheck()
	healthy := err == nil && res.Healthy
	if healthy {
		metrics.RNGHealthy.Set(1)
	} else {
		metrics.RNGHealthy.Set(0)
	}

	sev := domain.SeverityInfo
	if !healthy {
		sev = domain.SeverityCritical
	}
	s.audit.Log(ctx, audit.EventRNGHealthCheck, sev,
		fmt.Sprintf("RNG health check healthy=%t", healthy), res, audit.WithComponent("jobs"))

	if err != nil {
		return fmt.Errorf("rng health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("rng health check failed: chi-square %.2f", res.ChiSquare)
	}
	return nil
}
