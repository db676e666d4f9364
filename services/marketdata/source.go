// Package marketdata retrieves intraday bars for batches of symbols.
//
// A Source either returns bars for the whole batch or fails the whole batch
// with an error wrapping ErrDownloadFailed. Callers never see partial series.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gap_strategy_backend/models"
)

// ErrDownloadFailed marks a batch-level retrieval failure
var ErrDownloadFailed = errors.New("download failed")

// Source fetches bars for a batch of symbols over [start, end]
type Source interface {
	Fetch(ctx context.Context, symbols []string, start, end time.Time, interval time.Duration) (map[string][]models.Bar, error)
}

// downloadFailed wraps err so errors.Is(err, ErrDownloadFailed) holds
func downloadFailed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDownloadFailed, fmt.Sprintf(format, args...))
}

// IntervalString maps a bar interval to the provider's notation
func IntervalString(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "1m", nil
	case 2 * time.Minute:
		return "2m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "60m", nil
	case 24 * time.Hour:
		return "1d", nil
	}
	return "", fmt.Errorf("unsupported bar interval %s", d)
}
