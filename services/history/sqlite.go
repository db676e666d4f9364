package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"gap_strategy_backend/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS gap_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	position INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	company_name TEXT,
	sector TEXT,
	gap_type TEXT,
	gap_size REAL,
	prev_high REAL,
	prev_low REAL,
	current_open REAL,
	price REAL,
	first_candle_high REAL,
	first_candle_low REAL,
	entry_price REAL,
	stop_loss REAL,
	target REAL,
	risk_amount REAL,
	reward_amount REAL,
	volume REAL,
	avg_volume REAL,
	relative_volume REAL,
	created_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_gap_history_date ON gap_history(date);
`

const insertGapRow = `INSERT INTO gap_history (
	date, position, symbol, company_name, sector, gap_type, gap_size, prev_high, prev_low,
	current_open, price, first_candle_high, first_candle_low, entry_price, stop_loss, target,
	risk_amount, reward_amount, volume, avg_volume, relative_volume, created_at
) VALUES (
	:date, :position, :symbol, :company_name, :sector, :gap_type, :gap_size, :prev_high, :prev_low,
	:current_open, :price, :first_candle_high, :first_candle_low, :entry_price, :stop_loss, :target,
	:risk_amount, :reward_amount, :volume, :avg_volume, :relative_volume, :created_at
)`

// SQLiteStore keeps the ledger in a local SQLite file
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "data/gap_history.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (models.HistoricalLedger, error) {
	var rows []models.GapHistoryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM gap_history ORDER BY date, position`); err != nil {
		return nil, fmt.Errorf("failed to query gap history: %w", err)
	}
	return models.LedgerFromRows(rows), nil
}

// Save replaces all rows inside one transaction
func (s *SQLiteStore) Save(ctx context.Context, ledger models.HistoricalLedger) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM gap_history`); err != nil {
		return fmt.Errorf("failed to clear gap history: %w", err)
	}

	now := time.Now().UTC()
	for _, row := range models.LedgerRows(ledger) {
		row.CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, insertGapRow, row); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", row.Date, row.Symbol, err)
		}
	}
	return tx.Commit()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
