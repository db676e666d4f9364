package candles

import (
	"sort"
	"time"

	"gap_strategy_backend/models"
)

// OpeningRangeWidth is the default width of the opening-range candle
const OpeningRangeWidth = 12 * time.Minute

// Resample aggregates bars into fixed-width candles whose buckets start at
// origin + k*width. Buckets that receive no bars produce no candle.
// Bars must be sorted by timestamp; bars before origin are ignored.
func Resample(bars []models.Bar, width time.Duration, origin time.Time) []models.Candle {
	if width <= 0 || len(bars) == 0 {
		return nil
	}

	var out []models.Candle
	var cur *models.Candle
	for _, b := range bars {
		if b.Timestamp.Before(origin) {
			continue
		}
		idx := b.Timestamp.Sub(origin) / width
		start := origin.Add(idx * width)

		if cur == nil || !cur.Start.Equal(start) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &models.Candle{
				Start:  start,
				End:    start.Add(width),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			}
			continue
		}
		merge(cur, b)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// Daily aggregates bars into one candle per calendar date in loc
func Daily(bars []models.Bar, loc *time.Location) []models.Candle {
	var out []models.Candle
	var cur *models.Candle
	for _, b := range bars {
		local := b.Timestamp.In(loc)
		y, m, d := local.Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)

		if cur == nil || !cur.Start.Equal(start) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &models.Candle{
				Start:  start,
				End:    start.AddDate(0, 0, 1),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			}
			continue
		}
		merge(cur, b)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// OpeningCandle returns the most recent completed candle of now's date,
// resampled at width from the session open
func OpeningCandle(bars []models.Bar, now, sessionOpen time.Time, width time.Duration) (models.Candle, bool) {
	dayEnd := sessionOpen.Add(24 * time.Hour)
	var today []models.Bar
	for _, b := range bars {
		if !b.Timestamp.Before(sessionOpen) && b.Timestamp.Before(dayEnd) {
			today = append(today, b)
		}
	}

	cs := Resample(today, width, sessionOpen)
	for i := len(cs) - 1; i >= 0; i-- {
		if !cs[i].End.After(now) {
			return cs[i], true
		}
	}
	return models.Candle{}, false
}

// PreviousSession returns the second-to-last daily candle
func PreviousSession(daily []models.Candle) (models.Candle, bool) {
	if len(daily) < 2 {
		return models.Candle{}, false
	}
	return daily[len(daily)-2], true
}

// MeanVolume returns the average candle volume, 0 for no candles
func MeanVolume(cs []models.Candle) float64 {
	if len(cs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cs {
		sum += c.Volume
	}
	return sum / float64(len(cs))
}

// IntradayCandles resamples each session in bars separately so buckets stay
// aligned to that day's open
func IntradayCandles(bars []models.Bar, width time.Duration, openOn func(time.Time) time.Time, loc *time.Location) []models.Candle {
	var out []models.Candle
	for _, day := range splitByDate(bars, loc) {
		out = append(out, Resample(day, width, openOn(day[0].Timestamp))...)
	}
	return out
}

// SortBars orders bars by timestamp in place
func SortBars(bars []models.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

func splitByDate(bars []models.Bar, loc *time.Location) [][]models.Bar {
	var days [][]models.Bar
	lastKey := ""
	for _, b := range bars {
		key := b.Timestamp.In(loc).Format(models.DateLayout)
		if key != lastKey {
			days = append(days, nil)
			lastKey = key
		}
		days[len(days)-1] = append(days[len(days)-1], b)
	}
	return days
}

func merge(c *models.Candle, b models.Bar) {
	if b.High > c.High {
		c.High = b.High
	}
	if b.Low < c.Low {
		c.Low = b.Low
	}
	c.Close = b.Close
	c.Volume += b.Volume
}
