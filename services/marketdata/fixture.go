package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gap_strategy_backend/models"
)

// Fixture is the on-disk form of recorded bars
type Fixture struct {
	Bars map[string][]models.Bar `json:"bars"`
	// Fail lists symbols whose batch should fail as a download failure
	Fail []string `json:"fail,omitempty"`
}

// FixtureSource serves recorded bars from memory
type FixtureSource struct {
	mu    sync.Mutex
	bars  map[string][]models.Bar
	fail  map[string]bool
	calls int
}

// NewFixtureSource creates a source from a fixture
func NewFixtureSource(f Fixture) *FixtureSource {
	fail := make(map[string]bool, len(f.Fail))
	for _, s := range f.Fail {
		fail[s] = true
	}
	bars := f.Bars
	if bars == nil {
		bars = make(map[string][]models.Bar)
	}
	return &FixtureSource{bars: bars, fail: fail}
}

// LoadFixtureFile reads a JSON fixture from path
func LoadFixtureFile(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return NewFixtureSource(f), nil
}

// Fetch implements Source, returning bars within [start, end]
func (f *FixtureSource) Fetch(ctx context.Context, symbols []string, start, end time.Time, interval time.Duration) (map[string][]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := ctx.Err(); err != nil {
		return nil, downloadFailed("%v", err)
	}
	if len(symbols) == 0 {
		return nil, downloadFailed("empty batch")
	}

	out := make(map[string][]models.Bar, len(symbols))
	for _, sym := range symbols {
		if f.fail[sym] {
			return nil, downloadFailed("%s: recorded failure", sym)
		}
		for _, b := range f.bars[sym] {
			if b.Timestamp.Before(start) || b.Timestamp.After(end) {
				continue
			}
			out[sym] = append(out[sym], b)
		}
	}
	return out, nil
}

// Calls returns how many batches were requested
func (f *FixtureSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
