// Package app wires configuration into a running gap scanner. Both the
// long-running server and the serverless handler build through here.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gap_strategy_backend/config"
	"gap_strategy_backend/controllers"
	"gap_strategy_backend/middleware"
	"gap_strategy_backend/routes"
	"gap_strategy_backend/scheduler"
	"gap_strategy_backend/services/gaps"
	"gap_strategy_backend/services/history"
	"gap_strategy_backend/services/marketclock"
	"gap_strategy_backend/services/marketdata"
	"gap_strategy_backend/services/metrics"
	"gap_strategy_backend/services/realtime"
	"gap_strategy_backend/services/scancache"
	"gap_strategy_backend/services/scanner"
	"gap_strategy_backend/services/universe"
)

// Options override pieces of the default wiring
type Options struct {
	// Source replaces the Yahoo client, e.g. with a fixture
	Source marketdata.Source
	// Store replaces the configured history backend
	Store history.Store
	Clock marketclock.Clock
}

// App holds the wired components
type App struct {
	Config   *config.Config
	Session  *marketclock.Session
	Universe *universe.Universe
	Scanner  *scanner.Scanner
	Cache    *scancache.Cache
	Metrics  *metrics.Recorder
	Hub      *realtime.Hub
	Store    history.Store

	guard  *marketdata.Guarded
	logger zerolog.Logger
}

// Build wires every component from cfg
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	session, err := marketclock.NewSession(cfg.Scan.Timezone, cfg.Scan.SessionOpen, cfg.Scan.WindowStart, cfg.Scan.WindowEnd)
	if err != nil {
		return nil, err
	}

	uni, err := loadUniverse(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("symbols", uni.Len()).Msg("universe loaded")

	mode, err := gaps.ParseMode(cfg.Scan.GapMode)
	if err != nil {
		return nil, err
	}
	detector := gaps.NewDetector(cfg.Scan.MinGapPercent, cfg.Scan.TickSize, mode)

	a := &App{Config: cfg, Session: session, Universe: uni, Metrics: metrics.NewRecorder(), logger: logger}

	source := opts.Source
	if source == nil {
		yahoo := marketdata.NewYahooSource(marketdata.YahooConfig{
			BaseURL:  cfg.Provider.BaseURL,
			Timeout:  cfg.Provider.FetchTimeout,
			RPS:      cfg.Provider.RPS,
			Burst:    cfg.Provider.Burst,
			Location: session.Location,
		}, logger)
		a.guard = marketdata.NewGuarded(yahoo, marketdata.GuardConfig{
			Name:                "yahoo",
			BatchTimeout:        cfg.Provider.BatchTimeout,
			ConsecutiveFailures: cfg.Provider.BreakerFailures,
			OpenTimeout:         cfg.Provider.BreakerCooldown,
		}, logger)
		source = a.guard
	}

	a.Scanner, err = scanner.New(scanner.Deps{
		Universe: uni,
		Source:   source,
		Detector: detector,
		Session:  session,
		Clock:    opts.Clock,
		Metrics:  a.Metrics,
		Logger:   logger,
	}, scanner.Config{
		BatchSize:    cfg.Scan.BatchSize,
		MaxWorkers:   cfg.Scan.MaxWorkers,
		LookbackDays: cfg.Scan.LookbackDays,
		BarInterval:  cfg.Scan.BarInterval,
		OpeningRange: cfg.Scan.OpeningRange,
	})
	if err != nil {
		return nil, err
	}

	a.Store = opts.Store
	if a.Store == nil {
		a.Store, err = history.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
	}

	a.Cache = scancache.New(ctx, a.Scanner, a.Store, session, opts.Clock, scancache.Config{
		Cooldown:      cfg.Scan.RescanInterval,
		RetentionDays: cfg.Scan.RetentionDays,
	}, a.Metrics, logger)

	a.Hub = realtime.NewHub(a.Cache.Snapshot, logger)
	a.Cache.Subscribe(a.Hub.PublishScan)

	return a, nil
}

func loadUniverse(cfg *config.Config) (*universe.Universe, error) {
	if cfg.UniverseFile != "" {
		return universe.LoadCSV(cfg.UniverseFile)
	}
	return universe.Default()
}

// BreakerState reports the provider breaker, or "n/a" for injected sources
func (a *App) BreakerState() string {
	if a.guard == nil {
		return "n/a"
	}
	return a.guard.State()
}

// Router builds the gin engine with every route mounted. The scan throttle's
// cleanup loop stops when ctx is done.
func (a *App) Router(ctx context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestLogger(a.logger))

	throttle := middleware.NewRateLimiter(a.Config.ScanTriggerLimit, time.Minute)
	throttle.StartCleanup(ctx, 10*time.Minute)

	routes.SetupRoutes(router, routes.Deps{
		Gaps:      controllers.NewGapController(a.Cache, a.BreakerState, a.logger),
		Hub:       a.Hub,
		Metrics:   a.Metrics,
		JWTSecret: a.Config.JWTSecret,
		Throttle:  throttle,
	})
	return router
}

// Scheduler creates the periodic refresh job. It ticks faster than the
// rescan interval so the cooldown, not the tick, sets the cadence.
func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.NewScheduler(a.Cache, a.Config.Scan.TickInterval, a.Session.Location, a.logger)
}

// Close releases the hub and any store holding connections
func (a *App) Close() error {
	a.Hub.Shutdown()
	if c, ok := a.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
