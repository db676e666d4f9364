package scancache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap_strategy_backend/models"
	"gap_strategy_backend/services/gaps"
	"gap_strategy_backend/services/history"
	"gap_strategy_backend/services/marketclock"
	"gap_strategy_backend/services/marketdata"
	"gap_strategy_backend/services/scanner"
	"gap_strategy_backend/services/universe"
)

// fakeScanner returns canned gaps stamped with the clock's date. A non-zero
// duration advances the clock while the scan runs. When entered is set the
// scan signals on it and waits for release.
type fakeScanner struct {
	mu       sync.Mutex
	clock    *marketclock.ManualClock
	gaps     []models.GapRecord
	calls    int
	scanning bool
	busy     bool
	duration time.Duration
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeScanner) RunScan(ctx context.Context) (*models.ScanResult, bool) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, false
	}
	f.calls++
	start := f.clock.Now()
	date := start.Format(models.DateLayout)
	gaps := make([]models.GapRecord, len(f.gaps))
	for i, g := range f.gaps {
		g.Date = date
		gaps[i] = g
	}
	if f.duration > 0 {
		f.clock.Advance(f.duration)
	}
	log := []models.ScanLogEntry{{Symbol: "AAA", Status: models.StatusGapFound, HasGap: true, Time: start}}
	return &models.ScanResult{ScanID: "test", StartedAt: start, FinishedAt: f.clock.Now(), Gaps: gaps, ScanLog: log}, true
}

func (f *fakeScanner) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

type failingStore struct {
	saves int
}

func (s *failingStore) Load(context.Context) (models.HistoricalLedger, error) {
	return nil, errors.New("disk on fire")
}

func (s *failingStore) Save(context.Context, models.HistoricalLedger) error {
	s.saves++
	return errors.New("disk on fire")
}

type fixture struct {
	session *marketclock.Session
	clock   *marketclock.ManualClock
	scanner *fakeScanner
	store   history.Store
	cache   *Cache
}

func newFixture(t *testing.T, store history.Store) *fixture {
	t.Helper()
	session, err := marketclock.NewSession("America/New_York", "09:30", "09:42", "16:00")
	require.NoError(t, err)

	clock := marketclock.NewManualClock(time.Date(2024, 3, 5, 10, 0, 0, 0, session.Location))
	sc := &fakeScanner{clock: clock, gaps: []models.GapRecord{
		{Symbol: "AAA", GapType: models.GapUp, GapSize: 1.0},
		{Symbol: "BBB", GapType: models.GapDown, GapSize: 3.0},
		{Symbol: "CCC", GapType: models.GapUp, GapSize: 1.0},
	}}
	if store == nil {
		store = history.NewMemoryStore()
	}
	cache := New(context.Background(), sc, store, session, clock, Config{Cooldown: 5 * time.Minute, RetentionDays: 3}, nil, zerolog.Nop())
	return &fixture{session: session, clock: clock, scanner: sc, store: store, cache: cache}
}

func TestRefresh_MarketWindowGate(t *testing.T) {
	f := newFixture(t, nil)
	loc := f.session.Location

	f.clock.Set(time.Date(2024, 3, 5, 9, 35, 0, 0, loc))
	assert.Equal(t, OutcomeOutsideWindow, f.cache.Refresh(context.Background()))

	f.clock.Set(time.Date(2024, 3, 9, 11, 0, 0, 0, loc))
	assert.Equal(t, OutcomeOutsideWindow, f.cache.Refresh(context.Background()))
	assert.Equal(t, 0, f.scanner.calls)

	f.clock.Set(time.Date(2024, 3, 5, 11, 0, 0, 0, loc))
	assert.Equal(t, OutcomeScanned, f.cache.Refresh(context.Background()))
	assert.Equal(t, 1, f.scanner.calls)
}

func TestRefresh_Cooldown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.Equal(t, OutcomeScanned, f.cache.Refresh(ctx))
	assert.False(t, f.cache.Stale())

	f.clock.Advance(4 * time.Minute)
	assert.Equal(t, OutcomeCooldown, f.cache.Refresh(ctx))

	f.clock.Advance(time.Minute)
	assert.True(t, f.cache.Stale())
	assert.Equal(t, OutcomeScanned, f.cache.Refresh(ctx))
	assert.Equal(t, 2, f.scanner.calls)
}

func TestForceRefresh_BypassesGatesButNotInFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.Set(time.Date(2024, 3, 9, 11, 0, 0, 0, f.session.Location))

	assert.Equal(t, OutcomeScanned, f.cache.ForceRefresh(context.Background()))
	assert.Equal(t, OutcomeScanned, f.cache.ForceRefresh(context.Background()))

	before := f.cache.Ledger()
	f.scanner.busy = true
	assert.Equal(t, OutcomeInFlight, f.cache.ForceRefresh(context.Background()))
	assert.Equal(t, before, f.cache.Ledger(), "rejected scan must not touch the ledger")
}

func TestRefresh_SameDateIsReplacedNotAppended(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(ctx))
	require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(ctx))

	ledger := f.cache.Ledger()
	assert.Len(t, ledger, 1)
	assert.Len(t, ledger["2024-03-05"], 3)
}

func TestRefresh_EmptyScanClearsDate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(ctx))

	f.scanner.gaps = nil
	require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(ctx))
	assert.Empty(t, f.cache.Ledger())
	assert.True(t, f.cache.HasScanned())
}

func TestRefresh_RetentionKeepsThreeNewestDates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	loc := f.session.Location

	days := []int{4, 5, 6, 7, 8}
	for _, d := range days {
		f.clock.Set(time.Date(2024, 3, d, 10, 0, 0, 0, loc))
		require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(ctx))
		assert.LessOrEqual(t, len(f.cache.Ledger()), 3)
	}

	ledger := f.cache.Ledger()
	assert.Len(t, ledger, 3)
	assert.Contains(t, ledger, "2024-03-08")
	assert.Contains(t, ledger, "2024-03-06")
	assert.NotContains(t, ledger, "2024-03-05")

	persisted, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestGaps_SortedByDateThenAbsSize(t *testing.T) {
	store := history.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), models.HistoricalLedger{
		"2024-03-04": {{Symbol: "OLD", Date: "2024-03-04", GapSize: 9}},
	}))
	f := newFixture(t, store)
	require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(context.Background()))

	gaps := f.cache.Gaps()
	require.Len(t, gaps, 4)
	symbols := []string{gaps[0].Symbol, gaps[1].Symbol, gaps[2].Symbol, gaps[3].Symbol}
	assert.Equal(t, []string{"BBB", "AAA", "CCC", "OLD"}, symbols)
}

func TestNew_LoadFailureStartsEmptyAndSaveFailureIsNonFatal(t *testing.T) {
	store := &failingStore{}
	f := newFixture(t, store)
	assert.Empty(t, f.cache.Ledger())

	assert.Equal(t, OutcomeScanned, f.cache.ForceRefresh(context.Background()))
	assert.Equal(t, 1, store.saves)
	assert.Len(t, f.cache.Gaps(), 3)
}

func TestNew_TrimsLoadedHistory(t *testing.T) {
	store := history.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), models.HistoricalLedger{
		"2024-02-26": {{Symbol: "A"}},
		"2024-02-27": {{Symbol: "B"}},
		"2024-02-28": {{Symbol: "C"}},
		"2024-02-29": {{Symbol: "D"}},
	}))
	f := newFixture(t, store)
	assert.Len(t, f.cache.Ledger(), 3)
	assert.NotContains(t, f.cache.Ledger(), "2024-02-26")
}

func TestSnapshotAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	snap := f.cache.Snapshot()
	assert.Nil(t, snap.LastScan)
	assert.Empty(t, snap.Gaps)
	st := f.cache.Status()
	assert.False(t, st.CachedResultsAvailable)
	assert.Nil(t, st.SecondsSinceLastScan)

	var observed []models.GapRecord
	f.cache.Subscribe(func(res *models.ScanResult, gaps []models.GapRecord) { observed = gaps })

	require.Equal(t, OutcomeScanned, f.cache.ForceRefresh(context.Background()))
	f.clock.Advance(90 * time.Second)

	snap = f.cache.Snapshot()
	require.NotNil(t, snap.LastScan)
	assert.Len(t, snap.ScanLog, 1)
	assert.Len(t, snap.Gaps, 3)
	assert.Len(t, observed, 3)

	st = f.cache.Status()
	assert.True(t, st.CachedResultsAvailable)
	assert.Equal(t, 3, st.ResultsCount)
	require.NotNil(t, st.SecondsSinceLastScan)
	assert.Equal(t, 90.0, *st.SecondsSinceLastScan)
}

func TestRefresh_CooldownCountsFromScanStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.scanner.duration = 20 * time.Second

	require.Equal(t, OutcomeScanned, f.cache.Refresh(ctx))
	assert.Equal(t, 20*time.Second, f.clock.Now().Sub(time.Date(2024, 3, 5, 10, 0, 0, 0, f.session.Location)))

	// 10:04:59 is still inside the cooldown of the 10:00 scan
	f.clock.Set(time.Date(2024, 3, 5, 10, 4, 59, 0, f.session.Location))
	assert.Equal(t, OutcomeCooldown, f.cache.Refresh(ctx))

	// a one minute tick lands at 10:05 and must rescan even though the
	// previous scan only finished at 10:00:20
	f.clock.Set(time.Date(2024, 3, 5, 10, 5, 0, 0, f.session.Location))
	assert.True(t, f.cache.Stale())
	assert.Equal(t, OutcomeScanned, f.cache.Refresh(ctx))
	assert.Equal(t, 2, f.scanner.calls)

	snap := f.cache.Snapshot()
	require.NotNil(t, snap.LastScan)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 5, 20, 0, f.session.Location), *snap.LastScan, "last scan reports completion time")
}

func TestRefresh_ConcurrentRefreshYields(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.scanner.entered = make(chan struct{})
	f.scanner.release = make(chan struct{})

	done := make(chan Outcome, 1)
	go func() { done <- f.cache.Refresh(ctx) }()

	select {
	case <-f.scanner.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never started scanning")
	}

	// the first refresh has passed its gates but not finished, so the
	// cooldown is not yet armed
	assert.Equal(t, OutcomeInFlight, f.cache.Refresh(ctx))

	close(f.scanner.release)
	select {
	case out := <-done:
		assert.Equal(t, OutcomeScanned, out)
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never finished")
	}
	assert.Equal(t, 1, f.scanner.calls)
	assert.Equal(t, OutcomeCooldown, f.cache.Refresh(ctx))
}

// switchableSource delegates to a fixture but fails every batch that
// contains a symbol marked down
type switchableSource struct {
	mu   sync.Mutex
	next marketdata.Source
	down map[string]bool
	all  bool
}

func (s *switchableSource) setDown(all bool, symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = all
	s.down = make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		s.down[sym] = true
	}
}

func (s *switchableSource) Fetch(ctx context.Context, symbols []string, start, end time.Time, interval time.Duration) (map[string][]models.Bar, error) {
	s.mu.Lock()
	all := s.all
	down := false
	for _, sym := range symbols {
		down = down || s.down[sym]
	}
	s.mu.Unlock()
	if all || down {
		return nil, fmt.Errorf("%w: provider unavailable", marketdata.ErrDownloadFailed)
	}
	return s.next.Fetch(ctx, symbols, start, end, interval)
}

// sessionBars builds a prior session with the given range and a current
// session whose opening range opens at open and closes at closePrice
func sessionBars(loc *time.Location, prevHigh, prevLow, open, closePrice float64) []models.Bar {
	d1 := time.Date(2024, 3, 4, 9, 30, 0, 0, loc)
	d2 := time.Date(2024, 3, 5, 9, 30, 0, 0, loc)
	bars := []models.Bar{
		{Timestamp: d1, Open: prevLow, High: prevHigh, Low: prevLow, Close: prevHigh, Volume: 1000},
		{Timestamp: d1.Add(time.Hour), Open: prevHigh, High: prevHigh, Low: prevLow, Close: prevLow, Volume: 1000},
	}
	for i := 0; i < 12; i++ {
		p := open + (closePrice-open)*float64(i)/11
		bars = append(bars, models.Bar{
			Timestamp: d2.Add(time.Duration(i) * time.Minute),
			Open:      p, High: p + 0.2, Low: p - 0.2, Close: p, Volume: 100,
		})
	}
	bars[2].Open = open
	return bars
}

func newScannerCache(t *testing.T) (*Cache, *switchableSource, *marketclock.ManualClock, history.Store) {
	t.Helper()
	session, err := marketclock.NewSession("America/New_York", "09:30", "09:42", "16:00")
	require.NoError(t, err)
	loc := session.Location

	u, err := universe.New([]universe.Constituent{
		{Symbol: "GAPD", Name: "Gap Down Inc", Sector: "Tech"},
		{Symbol: "GAPU", Name: "Gap Up Inc", Sector: "Tech"},
	})
	require.NoError(t, err)

	src := &switchableSource{next: marketdata.NewFixtureSource(marketdata.Fixture{Bars: map[string][]models.Bar{
		"GAPD": sessionBars(loc, 100, 95, 102, 99),
		"GAPU": sessionBars(loc, 110, 100, 98, 99.5),
	}})}
	clock := marketclock.NewManualClock(time.Date(2024, 3, 5, 9, 45, 0, 0, loc))

	sc, err := scanner.New(scanner.Deps{
		Universe: u,
		Source:   src,
		Detector: gaps.NewDetector(0.5, 0.01, gaps.ModeReversal),
		Session:  session,
		Clock:    clock,
		Logger:   zerolog.Nop(),
	}, scanner.Config{BatchSize: 1, MaxWorkers: 1})
	require.NoError(t, err)

	store := history.NewMemoryStore()
	cache := New(context.Background(), sc, store, session, clock, Config{Cooldown: 5 * time.Minute, RetentionDays: 3}, nil, zerolog.Nop())
	return cache, src, clock, store
}

func symbolsOf(records []models.GapRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Symbol
	}
	return out
}

func TestRefresh_AllDownloadsFailedKeepsLedger(t *testing.T) {
	cache, src, clock, store := newScannerCache(t)
	ctx := context.Background()

	require.Equal(t, OutcomeScanned, cache.Refresh(ctx))
	before := cache.Ledger()
	require.ElementsMatch(t, []string{"GAPD", "GAPU"}, symbolsOf(before["2024-03-05"]))
	firstScan := cache.Snapshot().LastScan

	clock.Advance(5 * time.Minute)
	src.setDown(true)
	assert.Equal(t, OutcomeFailed, cache.Refresh(ctx))

	assert.Equal(t, before, cache.Ledger(), "a scan with no usable data must not wipe the day")
	assert.Equal(t, firstScan, cache.Snapshot().LastScan)
	assert.True(t, cache.Stale(), "a failed scan does not arm the cooldown")

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, persisted)

	src.setDown(false)
	assert.Equal(t, OutcomeScanned, cache.Refresh(ctx), "recovery is not held back by the failed attempt")
}

func TestRefresh_FailedBatchCarriesPreviousRecords(t *testing.T) {
	cache, src, clock, _ := newScannerCache(t)
	ctx := context.Background()

	require.Equal(t, OutcomeScanned, cache.Refresh(ctx))
	first := cache.Ledger()["2024-03-05"]
	require.Len(t, first, 2)

	clock.Advance(5 * time.Minute)
	src.setDown(false, "GAPU")
	require.Equal(t, OutcomeScanned, cache.Refresh(ctx))

	day := cache.Ledger()["2024-03-05"]
	assert.ElementsMatch(t, []string{"GAPD", "GAPU"}, symbolsOf(day))

	st := make(map[string]models.ScanStatus)
	for _, e := range cache.Snapshot().ScanLog {
		st[e.Symbol] = e.Status
	}
	assert.Equal(t, models.StatusDownloadFailed, st["GAPU"])
	assert.Equal(t, models.StatusGapFound, st["GAPD"])

	// the reverse outage carries GAPD while GAPU is evaluated afresh
	src.setDown(false, "GAPD")
	clock.Advance(5 * time.Minute)
	require.Equal(t, OutcomeScanned, cache.Refresh(ctx))
	assert.ElementsMatch(t, []string{"GAPD", "GAPU"}, symbolsOf(cache.Ledger()["2024-03-05"]))
}
