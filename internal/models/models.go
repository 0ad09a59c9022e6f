// Package models provides domain models for the reflection pipeline.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents hourly OHLCV data for a symbol.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PriceWindow is the ordered run of hourly samples that follow a decision.
// Samples are strictly after Anchor, strictly increasing, and never empty
// once handed out by a provider.
type PriceWindow struct {
	Symbol  string
	Anchor  time.Time
	Hours   int // nominal window length
	Samples []Candle
}

// Len returns the number of samples in the window.
func (w PriceWindow) Len() int {
	return len(w.Samples)
}

// Empty reports whether the window has no samples.
func (w PriceWindow) Empty() bool {
	return len(w.Samples) == 0
}

// AverageClose returns the arithmetic mean of the close prices.
// The zero value is returned for an empty window.
func (w PriceWindow) AverageClose() decimal.Decimal {
	if len(w.Samples) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range w.Samples {
		sum = sum.Add(decimal.NewFromFloat(c.Close))
	}
	return sum.Div(decimal.NewFromInt(int64(len(w.Samples))))
}

// Start returns the timestamp of the first sample.
func (w PriceWindow) Start() time.Time {
	if len(w.Samples) == 0 {
		return w.Anchor
	}
	return w.Samples[0].Timestamp
}

// End returns the timestamp of the last sample.
func (w PriceWindow) End() time.Time {
	if len(w.Samples) == 0 {
		return w.Anchor
	}
	return w.Samples[len(w.Samples)-1].Timestamp
}
