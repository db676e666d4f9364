package scancache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gap_strategy_backend/models"
	"gap_strategy_backend/services/history"
	"gap_strategy_backend/services/marketclock"
	"gap_strategy_backend/services/metrics"
)

// Outcome describes what a refresh request did
type Outcome string

const (
	OutcomeScanned       Outcome = "scanned"
	OutcomeOutsideWindow Outcome = "outside_window"
	OutcomeCooldown      Outcome = "cooldown"
	OutcomeInFlight      Outcome = "in_flight"
	// OutcomeFailed means no symbol could be downloaded. The ledger and
	// the cooldown are left as they were.
	OutcomeFailed Outcome = "all_failed"
)

// Scanner is the part of the orchestrator the cache drives
type Scanner interface {
	RunScan(ctx context.Context) (*models.ScanResult, bool)
	IsScanning() bool
}

// Observer is notified after every successful scan
type Observer func(res *models.ScanResult, gaps []models.GapRecord)

// Config controls gating and retention
type Config struct {
	Cooldown      time.Duration
	RetentionDays int
}

// Cache owns the ledger, the latest scan log and the refresh gates
type Cache struct {
	scanner Scanner
	store   history.Store
	session *marketclock.Session
	clock   marketclock.Clock
	metrics *metrics.Recorder
	logger  zerolog.Logger
	cfg     Config

	// refreshMu serializes gated refreshes so the cooldown check and the
	// scan it admits happen as one step
	refreshMu sync.Mutex

	mu        sync.RWMutex
	ledger    models.HistoricalLedger
	scanLog   []models.ScanLogEntry
	lastScan  *time.Time
	lastStart *time.Time
	observers []Observer
}

// New creates a cache and loads persisted history. A load failure is logged
// and the cache starts empty.
func New(ctx context.Context, scanner Scanner, store history.Store, session *marketclock.Session, clock marketclock.Clock, cfg Config, rec *metrics.Recorder, logger zerolog.Logger) *Cache {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 3
	}
	if store == nil {
		store = history.NewMemoryStore()
	}
	if clock == nil {
		clock = marketclock.NewSystemClock(session.Location)
	}

	c := &Cache{
		scanner: scanner,
		store:   store,
		session: session,
		clock:   clock,
		metrics: rec,
		logger:  logger.With().Str("component", "scancache").Logger(),
		cfg:     cfg,
		ledger:  make(models.HistoricalLedger),
	}

	ledger, err := store.Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load gap history, starting empty")
	} else {
		c.ledger = applyRetention(ledger, cfg.RetentionDays)
		c.logger.Info().Int("dates", len(c.ledger)).Int("records", c.ledger.Len()).Msg("loaded gap history")
	}
	rec.ObserveLedger(len(c.ledger))
	return c
}

// Subscribe registers an observer for completed scans
func (c *Cache) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Refresh runs a scan if the market window is open and the cooldown has
// passed. The cooldown counts from the start of the last successful scan.
func (c *Cache) Refresh(ctx context.Context) Outcome {
	if !c.refreshMu.TryLock() {
		c.metrics.ObserveOutcome(string(OutcomeInFlight))
		return OutcomeInFlight
	}
	defer c.refreshMu.Unlock()

	now := c.clock.Now()
	if !c.session.InScanWindow(now) {
		c.metrics.ObserveOutcome(string(OutcomeOutsideWindow))
		return OutcomeOutsideWindow
	}
	if c.inCooldown(now) {
		c.metrics.ObserveOutcome(string(OutcomeCooldown))
		return OutcomeCooldown
	}
	return c.run(ctx)
}

// ForceRefresh runs a scan regardless of window and cooldown. It still
// yields to a scan that is already in flight.
func (c *Cache) ForceRefresh(ctx context.Context) Outcome {
	return c.run(ctx)
}

func (c *Cache) run(ctx context.Context) Outcome {
	res, ok := c.scanner.RunScan(ctx)
	if !ok {
		c.metrics.ObserveOutcome(string(OutcomeInFlight))
		return OutcomeInFlight
	}

	if !usable(res.ScanLog) {
		c.metrics.ObserveOutcome(string(OutcomeFailed))
		c.logger.Warn().
			Str("scan_id", res.ScanID).
			Int("symbols", len(res.ScanLog)).
			Msg("no symbol could be downloaded, keeping previous gaps")
		return OutcomeFailed
	}

	finished := c.clock.Now()
	started := res.StartedAt
	date := c.session.DateKey(started)

	c.mu.Lock()
	records := append([]models.GapRecord(nil), res.Gaps...)
	carried := carryOver(c.ledger[date], res.ScanLog)
	records = append(records, carried...)
	if len(records) > 0 {
		c.ledger[date] = records
	} else {
		delete(c.ledger, date)
	}
	c.ledger = applyRetention(c.ledger, c.cfg.RetentionDays)
	c.scanLog = res.ScanLog
	c.lastScan = &finished
	c.lastStart = &started
	snapshot := c.ledger.Clone()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	c.metrics.ObserveOutcome(string(OutcomeScanned))
	c.metrics.ObserveLedger(len(snapshot))
	if len(carried) > 0 {
		c.logger.Info().Int("records", len(carried)).Str("date", date).Msg("kept gaps for symbols that failed to download")
	}

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.metrics.SaveFailed()
		c.logger.Warn().Err(err).Msg("failed to save gap history")
	}

	if len(observers) > 0 {
		sorted := flatten(snapshot)
		for _, o := range observers {
			o(res, sorted)
		}
	}
	return OutcomeScanned
}

func (c *Cache) inCooldown(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastStart != nil && now.Sub(*c.lastStart) < c.cfg.Cooldown
}

// usable reports whether at least one symbol was actually evaluated
func usable(log []models.ScanLogEntry) bool {
	for _, e := range log {
		if e.Status == models.StatusGapFound || e.Status == models.StatusNoGap {
			return true
		}
	}
	return false
}

// carryOver returns the previous records of symbols whose download failed
// in this scan
func carryOver(previous []models.GapRecord, log []models.ScanLogEntry) []models.GapRecord {
	if len(previous) == 0 {
		return nil
	}
	failed := make(map[string]struct{})
	for _, e := range log {
		if e.Status == models.StatusDownloadFailed {
			failed[e.Symbol] = struct{}{}
		}
	}
	var kept []models.GapRecord
	for _, g := range previous {
		if _, ok := failed[g.Symbol]; ok {
			kept = append(kept, g)
		}
	}
	return kept
}

// Gaps returns the retained ledger flattened, newest date first, then by
// absolute gap size descending, ties in discovery order
func (c *Cache) Gaps() []models.GapRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return flatten(c.ledger)
}

// Snapshot returns the consumer-facing view
func (c *Cache) Snapshot() models.ScanSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := models.ScanSnapshot{
		Gaps:    flatten(c.ledger),
		ScanLog: append([]models.ScanLogEntry{}, c.scanLog...),
	}
	if c.lastScan != nil {
		t := *c.lastScan
		snap.LastScan = &t
	}
	return snap
}

// Ledger returns a copy of the retained ledger
func (c *Cache) Ledger() models.HistoricalLedger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Clone()
}

// Status summarizes cache state for health endpoints
type Status struct {
	LastScan               *time.Time `json:"last_scan"`
	Scanning               bool       `json:"scanning"`
	CachedResultsAvailable bool       `json:"cached_results_available"`
	ResultsCount           int        `json:"results_count"`
	SecondsSinceLastScan   *float64   `json:"seconds_since_last_scan"`
	RetainedDates          int        `json:"retained_dates"`
}

// Status returns the health summary
func (c *Cache) Status() Status {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Scanning:               c.scanner.IsScanning(),
		CachedResultsAvailable: c.ledger.Len() > 0,
		ResultsCount:           c.ledger.Len(),
		RetainedDates:          len(c.ledger),
	}
	if c.lastScan != nil {
		t := *c.lastScan
		st.LastScan = &t
		secs := math.Round(now.Sub(t).Seconds()*10) / 10
		st.SecondsSinceLastScan = &secs
	}
	return st
}

// Stale reports whether the last scan started longer ago than the cooldown,
// or never ran
func (c *Cache) Stale() bool {
	return !c.inCooldown(c.clock.Now())
}

// HasScanned reports whether any scan completed in this process
func (c *Cache) HasScanned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastScan != nil
}

// applyRetention keeps only the newest n dates
func applyRetention(ledger models.HistoricalLedger, n int) models.HistoricalLedger {
	if len(ledger) <= n {
		return ledger
	}
	dates := make([]string, 0, len(ledger))
	for d := range ledger {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	kept := make(models.HistoricalLedger, n)
	for _, d := range dates[:n] {
		kept[d] = ledger[d]
	}
	return kept
}

func flatten(ledger models.HistoricalLedger) []models.GapRecord {
	dates := make([]string, 0, len(ledger))
	for d := range ledger {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]models.GapRecord, 0, ledger.Len())
	for _, d := range dates {
		day := append([]models.GapRecord(nil), ledger[d]...)
		sort.SliceStable(day, func(i, j int) bool {
			return math.Abs(day[i].GapSize) > math.Abs(day[j].GapSize)
		})
		out = append(out, day...)
	}
	return out
}
