package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap_strategy_backend/models"
	"gap_strategy_backend/services/scancache"
)

type fakeCache struct {
	mu        sync.Mutex
	gaps      []models.GapRecord
	log       []models.ScanLogEntry
	scanned   bool
	stale     bool
	forced    int
	refreshed chan struct{}
	outcome   scancache.Outcome
	onForce   func(f *fakeCache)
}

func (f *fakeCache) Refresh(ctx context.Context) scancache.Outcome {
	if f.refreshed != nil {
		f.refreshed <- struct{}{}
	}
	return scancache.OutcomeScanned
}

func (f *fakeCache) ForceRefresh(ctx context.Context) scancache.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	if f.onForce != nil {
		f.onForce(f)
	}
	if f.outcome != "" {
		return f.outcome
	}
	f.scanned = true
	return scancache.OutcomeScanned
}

func (f *fakeCache) Gaps() []models.GapRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gaps
}

func (f *fakeCache) Snapshot() models.ScanSnapshot {
	return models.ScanSnapshot{Gaps: f.Gaps(), ScanLog: f.log}
}

func (f *fakeCache) Status() scancache.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scancache.Status{ResultsCount: len(f.gaps), CachedResultsAvailable: len(f.gaps) > 0}
}

func (f *fakeCache) HasScanned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanned
}

func (f *fakeCache) Stale() bool { return f.stale }

func setupRouter(fc *fakeCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	gc := NewGapController(fc, func() string { return "closed" }, zerolog.Nop())

	r := gin.New()
	r.GET("/", gc.Root)
	r.GET("/api/gaps", gc.GetGaps)
	r.GET("/api/scan-log", gc.GetScanLog)
	r.GET("/api/health", gc.Health)
	r.POST("/api/scan", gc.TriggerScan)
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestGetGaps_InitialScanWhenEmpty(t *testing.T) {
	fc := &fakeCache{onForce: func(f *fakeCache) {
		f.gaps = []models.GapRecord{{Symbol: "AAA", GapSize: -1.5}}
	}}
	r := setupRouter(fc)

	w := do(r, http.MethodGet, "/api/gaps")
	require.Equal(t, http.StatusOK, w.Code)

	var gaps []models.GapRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &gaps))
	assert.Len(t, gaps, 1)
	assert.Equal(t, "AAA", gaps[0].Symbol)
	assert.Equal(t, 1, fc.forced)
}

func TestGetGaps_EmptyListAfterScan(t *testing.T) {
	fc := &fakeCache{scanned: true}
	r := setupRouter(fc)

	w := do(r, http.MethodGet, "/api/gaps")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
	assert.Equal(t, 0, fc.forced)
}

func TestGetGaps_StaleTriggersBackgroundRefresh(t *testing.T) {
	fc := &fakeCache{
		scanned:   true,
		stale:     true,
		gaps:      []models.GapRecord{{Symbol: "AAA"}},
		refreshed: make(chan struct{}, 1),
	}
	r := setupRouter(fc)

	w := do(r, http.MethodGet, "/api/gaps")
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-fc.refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a background refresh")
	}
	assert.Equal(t, 0, fc.forced)
}

func TestGetScanLog_FiltersByStatus(t *testing.T) {
	fc := &fakeCache{log: []models.ScanLogEntry{
		{Symbol: "AAA", Status: models.StatusGapFound, HasGap: true},
		{Symbol: "BBB", Status: models.StatusNoGap},
		{Symbol: "CCC", Status: models.ErrorStatus("boom")},
	}}
	r := setupRouter(fc)

	w := do(r, http.MethodGet, "/api/scan-log")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Count int                   `json:"count"`
		Data  []models.ScanLogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, 3, all.Count)

	w = do(r, http.MethodGet, "/api/scan-log?status=error")
	var errs struct {
		Count int                   `json:"count"`
		Data  []models.ScanLogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errs))
	require.Equal(t, 1, errs.Count)
	assert.Equal(t, "CCC", errs.Data[0].Symbol)
}

func TestTriggerScan(t *testing.T) {
	fc := &fakeCache{}
	r := setupRouter(fc)

	w := do(r, http.MethodPost, "/api/scan")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"scanned"`)

	fc.outcome = scancache.OutcomeInFlight
	w = do(r, http.MethodPost, "/api/scan")
	assert.Equal(t, http.StatusConflict, w.Code)

	fc.outcome = scancache.OutcomeFailed
	w = do(r, http.MethodPost, "/api/scan")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"market_data_unavailable"`)
}

func TestHealthAndRoot(t *testing.T) {
	fc := &fakeCache{gaps: []models.GapRecord{{Symbol: "AAA"}}}
	r := setupRouter(fc)

	w := do(r, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["cached_results_available"])
	assert.Equal(t, float64(1), health["results_count"])
	assert.Nil(t, health["seconds_since_last_scan"])
	assert.Equal(t, "closed", health["provider"])

	w = do(r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Gap Strategy API"`)
	assert.Contains(t, w.Body.String(), `"/api/gaps"`)
}
