package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gap_strategy_backend/models"
	"gap_strategy_backend/services/candles"
	"gap_strategy_backend/services/gaps"
	"gap_strategy_backend/services/marketclock"
	"gap_strategy_backend/services/marketdata"
	"gap_strategy_backend/services/metrics"
	"gap_strategy_backend/services/universe"
)

// Config holds the scan tuning knobs
type Config struct {
	BatchSize    int
	MaxWorkers   int
	LookbackDays int
	BarInterval  time.Duration
	OpeningRange time.Duration
}

// DefaultConfig mirrors the production defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:    20,
		MaxWorkers:   5,
		LookbackDays: 5,
		BarInterval:  time.Minute,
		OpeningRange: candles.OpeningRangeWidth,
	}
}

// Deps are the collaborators a Scanner needs
type Deps struct {
	Universe *universe.Universe
	Source   marketdata.Source
	Detector *gaps.Detector
	Session  *marketclock.Session
	Clock    marketclock.Clock
	Metrics  *metrics.Recorder
	Logger   zerolog.Logger
}

// Scanner runs one scan at a time over the whole universe
type Scanner struct {
	universe *universe.Universe
	source   marketdata.Source
	detector *gaps.Detector
	session  *marketclock.Session
	clock    marketclock.Clock
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	cfg      Config

	mu         sync.Mutex
	isScanning bool
}

// New creates a Scanner. An empty universe is a fatal configuration error.
func New(deps Deps, cfg Config) (*Scanner, error) {
	if deps.Universe == nil || deps.Universe.Len() == 0 {
		return nil, universe.ErrEmptyUniverse
	}
	if deps.Source == nil || deps.Detector == nil || deps.Session == nil {
		return nil, fmt.Errorf("scanner requires a source, detector and session")
	}
	if deps.Clock == nil {
		deps.Clock = marketclock.NewSystemClock(deps.Session.Location)
	}

	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = def.BarInterval
	}
	if cfg.OpeningRange <= 0 {
		cfg.OpeningRange = def.OpeningRange
	}

	return &Scanner{
		universe: deps.Universe,
		source:   deps.Source,
		detector: deps.Detector,
		session:  deps.Session,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "scanner").Logger(),
		cfg:      cfg,
	}, nil
}

// IsScanning reports whether a scan is in flight
func (s *Scanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isScanning
}

// UniverseSize returns the number of symbols scanned per run
func (s *Scanner) UniverseSize() int {
	return s.universe.Len()
}

// RunScan scans the universe. It returns ok=false without doing any work
// when another scan is already running.
func (s *Scanner) RunScan(ctx context.Context) (*models.ScanResult, bool) {
	s.mu.Lock()
	if s.isScanning {
		s.mu.Unlock()
		s.logger.Info().Msg("scan already in progress, skipping")
		return nil, false
	}
	s.isScanning = true
	s.mu.Unlock()
	s.metrics.SetInFlight(true)

	defer func() {
		s.mu.Lock()
		s.isScanning = false
		s.mu.Unlock()
		s.metrics.SetInFlight(false)
	}()

	res := &models.ScanResult{
		ScanID:    uuid.NewString(),
		StartedAt: s.clock.Now(),
	}
	log := s.logger.With().Str("scan_id", res.ScanID).Logger()

	symbols := s.universe.Symbols()
	batches := chunkSlice(symbols, s.cfg.BatchSize)
	log.Info().Int("symbols", len(symbols)).Int("batches", len(batches)).Int("workers", s.cfg.MaxWorkers).Msg("scan started")

	results := make([]batchResult, len(batches))
	var scanned int64

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxWorkers)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			results[i] = s.processBatch(ctx, batch, log)
			n := atomic.AddInt64(&scanned, int64(len(batch)))
			log.Debug().Int64("scanned", n).Int("total", len(symbols)).Msg("scan progress")
			return nil
		})
	}
	_ = g.Wait()

	res.Gaps = make([]models.GapRecord, 0)
	res.ScanLog = make([]models.ScanLogEntry, 0, len(symbols))
	for _, r := range results {
		res.Gaps = append(res.Gaps, r.gaps...)
		res.ScanLog = append(res.ScanLog, r.log...)
	}
	res.FinishedAt = s.clock.Now()

	log.Info().
		Int("gaps", len(res.Gaps)).
		Int("logged", len(res.ScanLog)).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("scan completed")
	s.metrics.ObserveScan(res)
	return res, true
}

type batchResult struct {
	gaps []models.GapRecord
	log  []models.ScanLogEntry
}

func (s *Scanner) processBatch(ctx context.Context, batch []string, log zerolog.Logger) batchResult {
	now := s.clock.Now()
	start := s.session.StartOfDay(now).AddDate(0, 0, -s.cfg.LookbackDays)

	data, err := s.fetch(ctx, batch, start, now)
	if err != nil {
		log.Warn().Err(err).Strs("symbols", batch).Msg("batch download failed")
		s.metrics.BatchFailed()
		return s.failedBatch(batch)
	}

	var out batchResult
	for _, sym := range batch {
		info := s.universe.Info(sym)
		entry := models.ScanLogEntry{Symbol: sym, CompanyName: info.Name, Sector: info.Sector}

		rec, err := s.evaluate(sym, info, data[sym], now)
		entry.Time = s.clock.Now()
		switch {
		case err != nil:
			log.Warn().Err(err).Str("symbol", sym).Msg("symbol evaluation failed")
			entry.Status = models.ErrorStatus(err.Error())
		case rec != nil:
			entry.Status = models.StatusGapFound
			entry.HasGap = true
			out.gaps = append(out.gaps, *rec)
		default:
			entry.Status = models.StatusNoGap
		}
		out.log = append(out.log, entry)
	}
	return out
}

// fetch converts a panicking source into a batch failure
func (s *Scanner) fetch(ctx context.Context, batch []string, start, end time.Time) (data map[string][]models.Bar, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: source panic: %v", marketdata.ErrDownloadFailed, r)
		}
	}()
	return s.source.Fetch(ctx, batch, start, end, s.cfg.BarInterval)
}

func (s *Scanner) failedBatch(batch []string) batchResult {
	now := s.clock.Now()
	out := batchResult{log: make([]models.ScanLogEntry, 0, len(batch))}
	for _, sym := range batch {
		info := s.universe.Info(sym)
		out.log = append(out.log, models.ScanLogEntry{
			Symbol:      sym,
			CompanyName: info.Name,
			Sector:      info.Sector,
			Status:      models.StatusDownloadFailed,
			Time:        now,
		})
	}
	return out
}

// evaluate resamples one symbol's bars and runs detection. Missing bars or
// an incomplete opening candle yield no record and no error.
func (s *Scanner) evaluate(symbol string, info models.CompanyInfo, bars []models.Bar, now time.Time) (rec *models.GapRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	if len(bars) == 0 {
		return nil, nil
	}
	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	candles.SortBars(sorted)

	daily := candles.Daily(sorted, s.session.Location)
	if len(daily) < 2 {
		return nil, nil
	}

	opening, ok := candles.OpeningCandle(sorted, now, s.session.OpenOn(now), s.cfg.OpeningRange)
	if !ok {
		return nil, nil
	}
	intraday := candles.IntradayCandles(sorted, s.cfg.OpeningRange, s.session.OpenOn, s.session.Location)

	return s.detector.Detect(gaps.Input{
		Symbol:    symbol,
		Info:      info,
		Date:      s.session.DateKey(now),
		Daily:     daily,
		Opening:   opening,
		LastPrice: sorted[len(sorted)-1].Close,
		AvgVolume: candles.MeanVolume(intraday),
	})
}

// chunkSlice splits a slice into chunks of the specified size
func chunkSlice(slice []string, chunkSize int) [][]string {
	var chunks [][]string
	for i := 0; i < len(slice); i += chunkSize {
		end := i + chunkSize
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
