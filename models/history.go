package models

import (
	"time"

	"gorm.io/gorm"
)

// GapHistoryRow is the relational form of one ledger entry.
// Position preserves discovery order within a date.
type GapHistoryRow struct {
	ID              uint      `gorm:"primaryKey" db:"id" json:"id"`
	Date            string    `gorm:"index:idx_gap_history_date;size:10;not null" db:"date" json:"date"`
	Position        int       `gorm:"not null" db:"position" json:"position"`
	Symbol          string    `gorm:"size:16;not null" db:"symbol" json:"symbol"`
	CompanyName     string    `db:"company_name" json:"company_name"`
	Sector          string    `db:"sector" json:"sector"`
	GapType         string    `gorm:"size:8" db:"gap_type" json:"gap_type"`
	GapSize         float64   `gorm:"type:decimal(10,2)" db:"gap_size" json:"gap_size"`
	PrevHigh        float64   `gorm:"type:decimal(15,2)" db:"prev_high" json:"prev_high"`
	PrevLow         float64   `gorm:"type:decimal(15,2)" db:"prev_low" json:"prev_low"`
	CurrentOpen     float64   `gorm:"type:decimal(15,2)" db:"current_open" json:"current_open"`
	Price           float64   `gorm:"type:decimal(15,2)" db:"price" json:"price"`
	FirstCandleHigh float64   `gorm:"type:decimal(15,2)" db:"first_candle_high" json:"first_candle_high"`
	FirstCandleLow  float64   `gorm:"type:decimal(15,2)" db:"first_candle_low" json:"first_candle_low"`
	EntryPrice      float64   `gorm:"type:decimal(15,2)" db:"entry_price" json:"entry_price"`
	StopLoss        float64   `gorm:"type:decimal(15,2)" db:"stop_loss" json:"stop_loss"`
	Target          float64   `gorm:"type:decimal(15,2)" db:"target" json:"target"`
	RiskAmount      float64   `gorm:"type:decimal(15,2)" db:"risk_amount" json:"risk_amount"`
	RewardAmount    float64   `gorm:"type:decimal(15,2)" db:"reward_amount" json:"reward_amount"`
	Volume          float64   `db:"volume" json:"volume"`
	AvgVolume       float64   `db:"avg_volume" json:"avg_volume"`
	RelativeVolume  float64   `gorm:"type:decimal(10,2)" db:"relative_volume" json:"relative_volume"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// TableName pins the table name shared by the gorm and sqlx stores
func (GapHistoryRow) TableName() string {
	return "gap_history"
}

// NewGapHistoryRow converts a record at the given discovery position
func NewGapHistoryRow(date string, position int, r GapRecord) GapHistoryRow {
	return GapHistoryRow{
		Date:            date,
		Position:        position,
		Symbol:          r.Symbol,
		CompanyName:     r.CompanyName,
		Sector:          r.Sector,
		GapType:         string(r.GapType),
		GapSize:         r.GapSize,
		PrevHigh:        r.PrevHigh,
		PrevLow:         r.PrevLow,
		CurrentOpen:     r.CurrentOpen,
		Price:           r.Price,
		FirstCandleHigh: r.FirstCandleHigh,
		FirstCandleLow:  r.FirstCandleLow,
		EntryPrice:      r.EntryPrice,
		StopLoss:        r.StopLoss,
		Target:          r.Target,
		RiskAmount:      r.RiskAmount,
		RewardAmount:    r.RewardAmount,
		Volume:          r.Volume,
		AvgVolume:       r.AvgVolume,
		RelativeVolume:  r.RelativeVolume,
	}
}

// Record converts the row back to a GapRecord
func (row GapHistoryRow) Record() GapRecord {
	return GapRecord{
		Symbol:          row.Symbol,
		CompanyName:     row.CompanyName,
		Sector:          row.Sector,
		Date:            row.Date,
		GapType:         GapType(row.GapType),
		GapSize:         row.GapSize,
		PrevHigh:        row.PrevHigh,
		PrevLow:         row.PrevLow,
		CurrentOpen:     row.CurrentOpen,
		Price:           row.Price,
		FirstCandleHigh: row.FirstCandleHigh,
		FirstCandleLow:  row.FirstCandleLow,
		EntryPrice:      row.EntryPrice,
		StopLoss:        row.StopLoss,
		Target:          row.Target,
		RiskAmount:      row.RiskAmount,
		RewardAmount:    row.RewardAmount,
		Volume:          row.Volume,
		AvgVolume:       row.AvgVolume,
		RelativeVolume:  row.RelativeVolume,
	}
}

// LedgerFromRows rebuilds a ledger from rows ordered by date and position
func LedgerFromRows(rows []GapHistoryRow) HistoricalLedger {
	ledger := make(HistoricalLedger)
	for _, row := range rows {
		ledger[row.Date] = append(ledger[row.Date], row.Record())
	}
	return ledger
}

// LedgerRows flattens a ledger into rows, preserving per-date order
func LedgerRows(ledger HistoricalLedger) []GapHistoryRow {
	rows := make([]GapHistoryRow, 0, ledger.Len())
	for date, records := range ledger {
		for i, r := range records {
			rows = append(rows, NewGapHistoryRow(date, i, r))
		}
	}
	return rows
}

// MigrateGapModels creates or updates the gap history table
func MigrateGapModels(db *gorm.DB) error {
	return db.AutoMigrate(&GapHistoryRow{})
}
