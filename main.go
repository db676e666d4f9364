package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gap_strategy_backend/app"
	"gap_strategy_backend/config"
	"gap_strategy_backend/models"
	"gap_strategy_backend/services/history"
	"gap_strategy_backend/services/marketclock"
	"gap_strategy_backend/services/marketdata"
	"gap_strategy_backend/services/scancache"
)

var (
	scanFixture string
	scanJSON    bool
	scanAt      string
	scanPersist bool
)

var rootCmd = &cobra.Command{
	Use:   "gapscanner",
	Short: "Opening gap scanner for S&P 500 equities",
	Long: `gapscanner scans the S&P 500 for opening gaps that reverse into the prior
session's range and serves the retained results over HTTP.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled scanner",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan and print the gaps found",
	Long: `Run a single forced scan over the universe and print the result.

Example usage:
  gapscanner scan                                   # Live Yahoo data
  gapscanner scan --json                            # JSON output
  gapscanner scan --fixture bars.json --at 2024-03-05T10:00:00-05:00`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanFixture, "fixture", "", "Read bars from a JSON fixture instead of Yahoo")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the scan result as JSON")
	scanCmd.Flags().StringVar(&scanAt, "at", "", "Evaluate as of this RFC3339 time")
	scanCmd.Flags().BoolVar(&scanPersist, "persist", false, "Write results to the configured history store")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger builds the process logger from config
func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	logger.Info().Msg("==============================================")
	logger.Info().Msg("  Gap Strategy API - Starting...")
	logger.Info().Msg("==============================================")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           a.Router(ctx),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	jobScheduler := a.Scheduler()
	if err := jobScheduler.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received, shutting down gracefully...")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server error")
	}

	gracefulShutdown(server, jobScheduler, a, logger)
	return nil
}

type stopper interface {
	Stop()
}

// gracefulShutdown stops the scheduler first so no new scan starts, then
// drains HTTP and releases the store
func gracefulShutdown(server *http.Server, jobScheduler stopper, a *app.App, logger zerolog.Logger) {
	jobScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := a.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close history store")
	}
	logger.Info().Msg("Server shutdown completed")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)
	ctx := cmd.Context()

	opts := app.Options{}
	if scanFixture != "" {
		src, err := marketdata.LoadFixtureFile(scanFixture)
		if err != nil {
			return err
		}
		opts.Source = src
	}
	if scanAt != "" {
		at, err := time.Parse(time.RFC3339, scanAt)
		if err != nil {
			return fmt.Errorf("invalid --at %q: %w", scanAt, err)
		}
		opts.Clock = marketclock.NewManualClock(at)
	}
	if !scanPersist {
		opts.Store = history.NewMemoryStore()
	}

	a, err := app.Build(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	var res *models.ScanResult
	a.Cache.Subscribe(func(r *models.ScanResult, _ []models.GapRecord) { res = r })
	switch a.Cache.ForceRefresh(ctx) {
	case scancache.OutcomeInFlight:
		return errors.New("scan already in progress")
	case scancache.OutcomeFailed:
		return errors.New("no symbol could be downloaded")
	}

	if scanJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printGaps(cmd, res)
	return nil
}

func printGaps(cmd *cobra.Command, res *models.ScanResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scan %s: %d symbols, %d gaps in %s\n\n",
		res.ScanID, len(res.ScanLog), len(res.Gaps), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	if len(res.Gaps) == 0 {
		fmt.Fprintln(out, "No gaps found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTYPE\tGAP%\tENTRY\tSTOP\tTARGET\tPRICE\tREL VOL\tSECTOR")
	for _, g := range res.Gaps {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			g.Symbol, g.GapType, g.GapSize, g.EntryPrice, g.StopLoss, g.Target, g.Price, g.RelativeVolume, g.Sector)
	}
	w.Flush()
}
