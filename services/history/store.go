// Package history persists the gap ledger across restarts.
//
// Every backend stores the full retained ledger on Save and replaces what it
// held before, so the in-memory ledger stays authoritative.
package history

import (
	"context"
	"errors"

	"gap_strategy_backend/models"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name
var ErrUnknownBackend = errors.New("unknown history backend")

// Store loads and saves the historical ledger
type Store interface {
	Load(ctx context.Context) (models.HistoricalLedger, error)
	Save(ctx context.Context, ledger models.HistoricalLedger) error
}

// MemoryStore keeps the ledger in process memory only
type MemoryStore struct {
	ledger models.HistoricalLedger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ledger: make(models.HistoricalLedger)}
}

func (m *MemoryStore) Load(ctx context.Context) (models.HistoricalLedger, error) {
	return m.ledger.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, ledger models.HistoricalLedger) error {
	m.ledger = ledger.Clone()
	return nil
}
