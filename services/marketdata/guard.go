package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"gap_strategy_backend/models"
)

// GuardConfig configures the breaker and per-batch deadline
type GuardConfig struct {
	Name                string
	BatchTimeout        time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Guarded wraps a Source with a per-batch timeout and a circuit breaker.
// While the breaker is open batches fail immediately as download failures.
type Guarded struct {
	next    Source
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuarded creates the decorator
func NewGuarded(next Source, cfg GuardConfig, logger zerolog.Logger) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "marketdata"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	log := logger.With().Str("component", "breaker").Logger()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}

	return &Guarded{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.BatchTimeout,
	}
}

// Fetch implements Source
func (g *Guarded) Fetch(ctx context.Context, symbols []string, start, end time.Time, interval time.Duration) (map[string][]models.Bar, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Fetch(ctx, symbols, start, end, interval)
	})
	if err != nil {
		if errors.Is(err, ErrDownloadFailed) {
			return nil, err
		}
		return nil, downloadFailed("%v", err)
	}
	return res.(map[string][]models.Bar), nil
}

// State reports the breaker state for health output
func (g *Guarded) State() string {
	return g.breaker.State().String()
}
