package history

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gap_strategy_backend/models"
)

// GormStore keeps the ledger in the gap_history table through gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the gap_history table and returns a store
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := models.MigrateGapModels(db); err != nil {
		return nil, fmt.Errorf("failed to migrate gap history: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Load(ctx context.Context) (models.HistoricalLedger, error) {
	var rows []models.GapHistoryRow
	if err := g.db.WithContext(ctx).Order("date ASC, position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load gap history: %w", err)
	}
	return models.LedgerFromRows(rows), nil
}

// Save replaces the table contents in one transaction
func (g *GormStore) Save(ctx context.Context, ledger models.HistoricalLedger) error {
	rows := models.LedgerRows(ledger)
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.GapHistoryRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear gap history: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("failed to insert gap history: %w", err)
		}
		return nil
	})
}

// Close closes the underlying connection pool
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
