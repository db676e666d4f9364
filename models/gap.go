package models

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date key format used by the history ledger
const DateLayout = "2006-01-02"

// CompanyInfo holds display metadata for a symbol
type CompanyInfo struct {
	Name   string `json:"name" yaml:"name"`
	Sector string `json:"sector" yaml:"sector"`
}

// Bar is one sampled OHLCV interval for a symbol, timestamped in exchange-local time
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Candle is an aggregate of a contiguous run of bars covering [Start, End)
type Candle struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// GapType is the direction of a detected gap
type GapType string

const (
	GapUp   GapType = "up"
	GapDown GapType = "down"
)

// GapRecord is a qualifying gap together with its trade plan
type GapRecord struct {
	Symbol          string  `json:"symbol" bson:"symbol"`
	CompanyName     string  `json:"companyName" bson:"company_name"`
	Sector          string  `json:"sector" bson:"sector"`
	Date            string  `json:"date" bson:"date"`
	GapType         GapType `json:"gap_type" bson:"gap_type"`
	GapSize         float64 `json:"gap_size" bson:"gap_size"`
	PrevHigh        float64 `json:"prev_high" bson:"prev_high"`
	PrevLow         float64 `json:"prev_low" bson:"prev_low"`
	CurrentOpen     float64 `json:"current_open" bson:"current_open"`
	Price           float64 `json:"price" bson:"price"`
	FirstCandleHigh float64 `json:"first_candle_high" bson:"first_candle_high"`
	FirstCandleLow  float64 `json:"first_candle_low" bson:"first_candle_low"`
	EntryPrice      float64 `json:"entry_price" bson:"entry_price"`
	StopLoss        float64 `json:"stop_loss" bson:"stop_loss"`
	Target          float64 `json:"target" bson:"target"`
	RiskAmount      float64 `json:"risk_amount" bson:"risk_amount"`
	RewardAmount    float64 `json:"reward_amount" bson:"reward_amount"`
	Volume          float64 `json:"volume" bson:"volume"`
	AvgVolume       float64 `json:"avg_volume" bson:"avg_volume"`
	RelativeVolume  float64 `json:"relative_volume" bson:"relative_volume"`
}

// ScanStatus is the per-symbol outcome recorded in the scan log
type ScanStatus string

const (
	StatusGapFound       ScanStatus = "gap_found"
	StatusNoGap          ScanStatus = "no_gap"
	StatusDownloadFailed ScanStatus = "download_failed"

	statusErrorPrefix = "error:"
)

// ErrorStatus builds the "error:<msg>" status for a symbol that failed evaluation
func ErrorStatus(msg string) ScanStatus {
	return ScanStatus(statusErrorPrefix + msg)
}

// IsError reports whether the status is an error:<msg> outcome
func (s ScanStatus) IsError() bool {
	return strings.HasPrefix(string(s), statusErrorPrefix)
}

// Kind collapses error:<msg> statuses into "error" for counting
func (s ScanStatus) Kind() string {
	if s.IsError() {
		return "error"
	}
	return string(s)
}

// ScanLogEntry is the audit record for one symbol of one scan
type ScanLogEntry struct {
	Symbol      string     `json:"symbol"`
	CompanyName string     `json:"companyName"`
	Sector      string     `json:"sector"`
	Status      ScanStatus `json:"status"`
	Time        time.Time  `json:"time"`
	HasGap      bool       `json:"has_gap"`
}

// HistoricalLedger maps a calendar date (YYYY-MM-DD) to the gaps found that day
type HistoricalLedger map[string][]GapRecord

// Clone returns a deep copy of the ledger
func (l HistoricalLedger) Clone() HistoricalLedger {
	out := make(HistoricalLedger, len(l))
	for date, records := range l {
		cp := make([]GapRecord, len(records))
		copy(cp, records)
		out[date] = cp
	}
	return out
}

// Len returns the total number of records across all dates
func (l HistoricalLedger) Len() int {
	n := 0
	for _, records := range l {
		n += len(records)
	}
	return n
}

// ScanResult is the output of one completed scan
type ScanResult struct {
	ScanID     string         `json:"scan_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Gaps       []GapRecord    `json:"gaps"`
	ScanLog    []ScanLogEntry `json:"scan_log"`
}

// ScanSnapshot is the consumer-facing view of the cache
type ScanSnapshot struct {
	Gaps     []GapRecord    `json:"gaps"`
	ScanLog  []ScanLogEntry `json:"scan_log"`
	LastScan *time.Time     `json:"last_scan"`
}
