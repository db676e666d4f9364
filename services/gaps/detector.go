package gaps

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gap_strategy_backend/models"
	"gap_strategy_backend/services/candles"
)

// Mode selects the gap qualification rule
type Mode string

const (
	// ModeReversal requires the opening candle to close back toward the prior range
	ModeReversal Mode = "reversal"
	// ModeSimple only compares the open against the prior range
	ModeSimple Mode = "simple"
)

// ParseMode maps a config string to a Mode; empty means ModeReversal
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReversal:
		return ModeReversal, nil
	case ModeSimple:
		return ModeSimple, nil
	}
	return "", fmt.Errorf("unknown gap mode %q", s)
}

const rewardRatio = 2

// Detector evaluates one symbol's candles against the prior session
type Detector struct {
	minGap decimal.Decimal
	tick   decimal.Decimal
	mode   Mode
}

// NewDetector creates a detector
func NewDetector(minGapPercent, tick float64, mode Mode) *Detector {
	if mode == "" {
		mode = ModeReversal
	}
	return &Detector{
		minGap: decimal.NewFromFloat(minGapPercent),
		tick:   decimal.NewFromFloat(tick),
		mode:   mode,
	}
}

// Input is everything the detector needs for one symbol
type Input struct {
	Symbol    string
	Info      models.CompanyInfo
	Date      string
	Daily     []models.Candle
	Opening   models.Candle
	LastPrice float64
	AvgVolume float64
}

// Detect returns a GapRecord when the symbol qualifies, nil otherwise.
// Fewer than two daily candles is not an error.
func (d *Detector) Detect(in Input) (*models.GapRecord, error) {
	prev, ok := candles.PreviousSession(in.Daily)
	if !ok {
		return nil, nil
	}
	if prev.High <= 0 || prev.Low <= 0 {
		return nil, fmt.Errorf("invalid prior session range %.4f-%.4f", prev.Low, prev.High)
	}

	prevHigh := decimal.NewFromFloat(prev.High)
	prevLow := decimal.NewFromFloat(prev.Low)
	open := decimal.NewFromFloat(in.Opening.Open)
	closePrice := decimal.NewFromFloat(in.Opening.Close)

	gapType, size, ok := d.classify(open, closePrice, prevHigh, prevLow)
	if !ok {
		return nil, nil
	}
	if size.Abs().LessThan(d.minGap) || size.Round(2).Abs().LessThan(d.minGap) {
		return nil, nil
	}

	high := round2(in.Opening.High)
	low := round2(in.Opening.Low)

	// Risk and target derive from the rounded levels so the published plan
	// always satisfies target = entry +/- 2 * risk.
	var entry, stop, risk, target decimal.Decimal
	if gapType == models.GapUp {
		entry = high.Add(d.tick).Round(2)
		stop = low.Sub(d.tick).Round(2)
		risk = entry.Sub(stop)
		target = entry.Add(risk.Mul(decimal.NewFromInt(rewardRatio)))
	} else {
		entry = low.Sub(d.tick).Round(2)
		stop = high.Add(d.tick).Round(2)
		risk = stop.Sub(entry)
		target = entry.Sub(risk.Mul(decimal.NewFromInt(rewardRatio)))
	}

	var relVol float64
	if in.AvgVolume > 0 {
		relVol = decimal.NewFromFloat(in.Opening.Volume / in.AvgVolume).Round(2).InexactFloat64()
	}

	return &models.GapRecord{
		Symbol:          in.Symbol,
		CompanyName:     in.Info.Name,
		Sector:          in.Info.Sector,
		Date:            in.Date,
		GapType:         gapType,
		GapSize:         size.Round(2).InexactFloat64(),
		PrevHigh:        prevHigh.Round(2).InexactFloat64(),
		PrevLow:         prevLow.Round(2).InexactFloat64(),
		CurrentOpen:     open.Round(2).InexactFloat64(),
		Price:           round2(in.LastPrice).InexactFloat64(),
		FirstCandleHigh: high.InexactFloat64(),
		FirstCandleLow:  low.InexactFloat64(),
		EntryPrice:      entry.InexactFloat64(),
		StopLoss:        stop.InexactFloat64(),
		Target:          target.InexactFloat64(),
		RiskAmount:      risk.InexactFloat64(),
		RewardAmount:    risk.Mul(decimal.NewFromInt(rewardRatio)).InexactFloat64(),
		Volume:          in.Opening.Volume,
		AvgVolume:       round2(in.AvgVolume).InexactFloat64(),
		RelativeVolume:  relVol,
	}, nil
}

func (d *Detector) classify(open, closePrice, prevHigh, prevLow decimal.Decimal) (models.GapType, decimal.Decimal, bool) {
	hundred := decimal.NewFromInt(100)

	switch d.mode {
	case ModeSimple:
		if open.GreaterThan(prevHigh) {
			return models.GapUp, open.Sub(prevHigh).Div(prevHigh).Mul(hundred), true
		}
		if open.LessThan(prevLow) {
			return models.GapDown, prevLow.Sub(open).Div(prevLow).Mul(hundred), true
		}
	default:
		if open.LessThan(prevLow) && closePrice.GreaterThan(open) {
			return models.GapUp, prevLow.Sub(open).Div(prevLow).Mul(hundred), true
		}
		if open.GreaterThan(prevHigh) && closePrice.LessThan(open) {
			return models.GapDown, open.Sub(prevHigh).Div(prevHigh).Mul(hundred), true
		}
	}
	return "", decimal.Zero, false
}

func round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
