package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gap_strategy_backend/models"
	"gap_strategy_backend/services/scancache"
)

// Version is reported by the root endpoint
const Version = "1.0"

// GapCache is the cache surface the HTTP layer reads and triggers
type GapCache interface {
	Refresh(ctx context.Context) scancache.Outcome
	ForceRefresh(ctx context.Context) scancache.Outcome
	Gaps() []models.GapRecord
	Snapshot() models.ScanSnapshot
	Status() scancache.Status
	HasScanned() bool
	Stale() bool
}

// GapController handles gap scanner requests
type GapController struct {
	cache        GapCache
	breakerState func() string
	logger       zerolog.Logger
}

// NewGapController creates a new gap controller. breakerState may be nil.
func NewGapController(cache GapCache, breakerState func() string, logger zerolog.Logger) *GapController {
	return &GapController{
		cache:        cache,
		breakerState: breakerState,
		logger:       logger.With().Str("component", "http").Logger(),
	}
}

// Root returns API information
// GET /
func (gc *GapController) Root(c *gin.Context) {
	st := gc.cache.Status()
	c.JSON(http.StatusOK, gin.H{
		"name":    "Gap Strategy API",
		"version": Version,
		"endpoints": gin.H{
			"gaps":     "/api/gaps",
			"scan_log": "/api/scan-log",
			"scan":     "/api/scan",
			"health":   "/api/health",
			"ws":       "/ws/gaps",
			"metrics":  "/metrics",
		},
		"status":    "running",
		"last_scan": st.LastScan,
		"scanning":  st.Scanning,
	})
}

// GetGaps returns the retained gap records, newest date first
// GET /api/gaps
func (gc *GapController) GetGaps(c *gin.Context) {
	gaps := gc.cache.Gaps()

	switch {
	case len(gaps) == 0 && !gc.cache.HasScanned():
		// Nothing to serve yet: scan now, even outside market hours
		outcome := gc.cache.ForceRefresh(context.WithoutCancel(c.Request.Context()))
		gc.logger.Info().Str("outcome", string(outcome)).Msg("initial scan on first request")
		gaps = gc.cache.Gaps()

	case gc.cache.Stale():
		go gc.cache.Refresh(context.Background())
	}

	if gaps == nil {
		gaps = []models.GapRecord{}
	}
	c.JSON(http.StatusOK, gaps)
}

// GetScanLog returns the latest scan's per-symbol audit trail
// GET /api/scan-log
func (gc *GapController) GetScanLog(c *gin.Context) {
	snap := gc.cache.Snapshot()
	log := snap.ScanLog
	if log == nil {
		log = []models.ScanLogEntry{}
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]models.ScanLogEntry, 0, len(log))
		for _, e := range log {
			if e.Status.Kind() == status {
				filtered = append(filtered, e)
			}
		}
		log = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"last_scan": snap.LastScan,
		"count":     len(log),
		"data":      log,
	})
}

// TriggerScan runs a scan now, bypassing the market window and cooldown
// POST /api/scan
func (gc *GapController) TriggerScan(c *gin.Context) {
	outcome := gc.cache.ForceRefresh(context.WithoutCancel(c.Request.Context()))
	if outcome == scancache.OutcomeInFlight {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "scan_in_progress",
			"message": "A scan is already running",
		})
		return
	}
	if outcome == scancache.OutcomeFailed {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "market_data_unavailable",
			"message": "No symbol could be downloaded, previous results were kept",
		})
		return
	}

	st := gc.cache.Status()
	c.JSON(http.StatusOK, gin.H{
		"outcome":       outcome,
		"last_scan":     st.LastScan,
		"results_count": st.ResultsCount,
	})
}

// Health reports scanner and cache state
// GET /api/health
func (gc *GapController) Health(c *gin.Context) {
	st := gc.cache.Status()
	resp := gin.H{
		"status":                   "healthy",
		"last_scan":                st.LastScan,
		"scanning":                 st.Scanning,
		"cached_results_available": st.CachedResultsAvailable,
		"results_count":            st.ResultsCount,
		"seconds_since_last_scan":  st.SecondsSinceLastScan,
		"retained_dates":           st.RetainedDates,
	}
	if gc.breakerState != nil {
		resp["provider"] = gc.breakerState()
	}
	c.JSON(http.StatusOK, resp)
}
