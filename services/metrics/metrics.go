package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gap_strategy_backend/models"
)

// Recorder holds the scanner's Prometheus metrics on a private registry
type Recorder struct {
	registry *prometheus.Registry

	ScanDuration   prometheus.Histogram
	ScansTotal     *prometheus.CounterVec
	SymbolStatus   *prometheus.CounterVec
	BatchFailures  prometheus.Counter
	GapsFound      prometheus.Gauge
	LedgerDates    prometheus.Gauge
	ScanInFlight   prometheus.Gauge
	HistorySaveErr prometheus.Counter
}

// NewRecorder creates and registers all metrics
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapscanner_scan_duration_seconds",
			Help:    "Wall time of completed scans",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_scans_total",
			Help: "Scan trigger outcomes",
		}, []string{"outcome"}),
		SymbolStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_symbol_status_total",
			Help: "Per-symbol scan log statuses",
		}, []string{"status"}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapscanner_batch_failures_total",
			Help: "Batches that failed to download",
		}),
		GapsFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapscanner_gaps_found",
			Help: "Gaps found by the most recent scan",
		}),
		LedgerDates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapscanner_ledger_dates",
			Help: "Distinct dates retained in the history ledger",
		}),
		ScanInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapscanner_scan_in_flight",
			Help: "1 while a scan is running",
		}),
		HistorySaveErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapscanner_history_save_errors_total",
			Help: "Failed history store saves",
		}),
	}

	r.registry.MustRegister(
		r.ScanDuration,
		r.ScansTotal,
		r.SymbolStatus,
		r.BatchFailures,
		r.GapsFound,
		r.LedgerDates,
		r.ScanInFlight,
		r.HistorySaveErr,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveScan records a finished scan
func (r *Recorder) ObserveScan(res *models.ScanResult) {
	if r == nil || res == nil {
		return
	}
	r.ScanDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	r.GapsFound.Set(float64(len(res.Gaps)))
	for _, e := range res.ScanLog {
		r.SymbolStatus.WithLabelValues(e.Status.Kind()).Inc()
	}
}

// ObserveOutcome counts a cache refresh outcome
func (r *Recorder) ObserveOutcome(outcome string) {
	if r == nil {
		return
	}
	r.ScansTotal.WithLabelValues(outcome).Inc()
}

// BatchFailed counts one failed batch
func (r *Recorder) BatchFailed() {
	if r == nil {
		return
	}
	r.BatchFailures.Inc()
}

// SetInFlight flips the in-flight gauge
func (r *Recorder) SetInFlight(active bool) {
	if r == nil {
		return
	}
	if active {
		r.ScanInFlight.Set(1)
		return
	}
	r.ScanInFlight.Set(0)
}

// ObserveLedger records the retained date count
func (r *Recorder) ObserveLedger(dates int) {
	if r == nil {
		return
	}
	r.LedgerDates.Set(float64(dates))
}

// SaveFailed counts a history persistence failure
func (r *Recorder) SaveFailed() {
	if r == nil {
		return
	}
	r.HistorySaveErr.Inc()
}
