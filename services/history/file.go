package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gap_strategy_backend/models"
)

// DefaultHistoryFile is where the JSON store writes when no path is configured
const DefaultHistoryFile = "data/gap_history.json"

// ledgerFile is the on-disk document
type ledgerFile struct {
	SavedAt time.Time               `json:"saved_at"`
	Ledger  models.HistoricalLedger `json:"ledger"`
}

// FileStore keeps the ledger in a JSON file
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a JSON file store
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultHistoryFile
	}
	return &FileStore{path: path}
}

// Load reads the ledger. A missing file is an empty ledger.
func (f *FileStore) Load(ctx context.Context) (models.HistoricalLedger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return make(models.HistoricalLedger), nil
	}

	jsonData, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var data ledgerFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if data.Ledger == nil {
		data.Ledger = make(models.HistoricalLedger)
	}
	return data.Ledger, nil
}

// Save writes the ledger, replacing the file through a rename
func (f *FileStore) Save(ctx context.Context, ledger models.HistoricalLedger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(ledgerFile{SavedAt: time.Now().UTC(), Ledger: ledger}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}
