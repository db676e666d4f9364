package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"gap_strategy_backend/services/scancache"
)

// Refresher is the cache operation the scheduler drives
type Refresher interface {
	Refresh(ctx context.Context) scancache.Outcome
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron     *gocron.Scheduler
	cache    Refresher
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler that ticks in the exchange's location
func NewScheduler(cache Refresher, interval time.Duration, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()

	return &Scheduler{
		cron:     cron,
		cache:    cache,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the refresh job and starts the scheduler in the background.
// The first tick runs immediately; the cache decides whether it scans.
func (s *Scheduler) Start() error {
	s.logger.Info().Dur("interval", s.interval).Msg("Starting scheduler...")

	if _, err := s.cron.Every(s.interval).Do(s.refreshGaps); err != nil {
		return fmt.Errorf("failed to schedule gap refresh: %w", err)
	}

	s.cron.StartAsync()
	s.logger.Info().Msg("Scheduler started successfully")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

// refreshGaps runs one gated refresh. Scans are never cancelled mid-flight.
func (s *Scheduler) refreshGaps() {
	start := time.Now()
	outcome := s.cache.Refresh(context.Background())

	ev := s.logger.Debug()
	switch outcome {
	case scancache.OutcomeScanned:
		ev = s.logger.Info()
	case scancache.OutcomeFailed:
		ev = s.logger.Warn()
	}
	ev.Str("outcome", string(outcome)).Dur("took", time.Since(start)).Msg("scheduled refresh")
}
