package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gap_strategy_backend/models"
)

// DefaultYahooBaseURL is the public chart API host
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooConfig configures the Yahoo chart client
type YahooConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RPS       float64
	Burst     int
	UserAgent string
	Location  *time.Location
}

// YahooSource fetches bars from the Yahoo chart API, one request per symbol,
// issued serially within a batch and throttled by a shared token bucket
type YahooSource struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	loc       *time.Location
	logger    zerolog.Logger
}

// NewYahooSource creates a Yahoo chart client
func NewYahooSource(cfg YahooConfig, logger zerolog.Logger) *YahooSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultYahooBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; gap-scanner/1.0)"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &YahooSource{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		loc:       cfg.Location,
		logger:    logger.With().Str("component", "yahoo").Logger(),
	}
}

// chartResponse is the subset of the chart payload we read.
// Quote arrays carry nulls for intervals without trades.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch implements Source. Any symbol failure fails the batch.
func (y *YahooSource) Fetch(ctx context.Context, symbols []string, start, end time.Time, interval time.Duration) (map[string][]models.Bar, error) {
	if len(symbols) == 0 {
		return nil, downloadFailed("empty batch")
	}
	iv, err := IntervalString(interval)
	if err != nil {
		return nil, downloadFailed("%v", err)
	}

	out := make(map[string][]models.Bar, len(symbols))
	for _, sym := range symbols {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, downloadFailed("rate limiter: %v", err)
		}
		bars, err := y.fetchSymbol(ctx, sym, start, end, iv)
		if err != nil {
			return nil, downloadFailed("%s: %v", sym, err)
		}
		out[sym] = bars
	}
	return out, nil
}

func (y *YahooSource) fetchSymbol(ctx context.Context, symbol string, start, end time.Time, interval string) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", interval)
	q.Set("includePrePost", "false")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", y.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode chart: %w", err)
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("provider error %s: %s", payload.Chart.Error.Code, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, nil
	}

	res := payload.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := res.Indicators.Quote[0]

	bars := make([]models.Bar, 0, len(res.Timestamp))
	dropped := 0
	for i, ts := range res.Timestamp {
		o, h, l, c, v := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i), at(quote.Volume, i)
		if o == nil || h == nil || l == nil || c == nil {
			dropped++
			continue
		}
		var vol float64
		if v != nil {
			vol = *v
		}
		bars = append(bars, models.Bar{
			Timestamp: time.Unix(ts, 0).In(y.loc),
			Open:      *o,
			High:      *h,
			Low:       *l,
			Close:     *c,
			Volume:    vol,
		})
	}
	if dropped > 0 {
		y.logger.Debug().Str("symbol", symbol).Int("dropped", dropped).Msg("skipped incomplete bars")
	}
	return bars, nil
}

func at(xs []*float64, i int) *float64 {
	if i >= len(xs) {
		return nil
	}
	return xs[i]
}
