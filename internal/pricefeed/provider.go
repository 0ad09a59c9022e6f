// Package pricefeed builds the forward-looking price windows that decisions
// are evaluated against.
package pricefeed

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/logging"
	"trade-reflector/internal/models"
)

// DefaultWindowHours is the nominal length of a price window.
const DefaultWindowHours = 24

// DefaultMinElapsedHours is how much of a longer window must have passed
// before a partial window is returned.
const DefaultMinElapsedHours = 24

// Timeframe is the candle resolution every feed returns.
const Timeframe = "1h"

// Feed returns raw hourly candles for a symbol around [from, to].
// Results may be unordered and may include candles outside the range.
type Feed interface {
	Name() string
	Candles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
}

// WindowProvider turns raw feed candles into a PriceWindow.
type WindowProvider struct {
	feed       Feed
	now        func() time.Time
	minElapsed time.Duration
	logger     zerolog.Logger
}

// Option configures a WindowProvider.
type Option func(*WindowProvider)

// WithClock overrides the clock used to decide whether a window has elapsed.
func WithClock(now func() time.Time) Option {
	return func(p *WindowProvider) { p.now = now }
}

// WithMinElapsedHours sets how many hours after the anchor a window longer
// than that may be returned partially. Non-positive values keep the default.
func WithMinElapsedHours(hours int) Option {
	return func(p *WindowProvider) {
		if hours > 0 {
			p.minElapsed = time.Duration(hours) * time.Hour
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *WindowProvider) { p.logger = logger }
}

// NewWindowProvider creates a provider backed by feed.
func NewWindowProvider(feed Feed, opts ...Option) *WindowProvider {
	p := &WindowProvider{
		feed:       feed,
		now:        time.Now,
		minElapsed: DefaultMinElapsedHours * time.Hour,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch returns the hourly samples strictly after anchor and at most
// windowHours after it. A window that has not fully elapsed is returned
// partially, with closed candles only, once the minimum elapsed time has
// passed. It fails with a DataError before that, when the feed fails, or
// when no sample falls inside the window; it never returns an empty window.
func (p *WindowProvider) Fetch(ctx context.Context, symbol string, anchor time.Time, windowHours int) (models.PriceWindow, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}
	anchor = anchor.UTC()
	end := anchor.Add(time.Duration(windowHours) * time.Hour)

	now := p.now()
	required := end
	if minEnd := anchor.Add(p.minElapsed); minEnd.Before(required) {
		required = minEnd
	}
	if now.Before(required) {
		return models.PriceWindow{}, apperrors.NewDataError(symbol, anchor, "forward window has not elapsed yet", nil)
	}

	last := end
	partial := now.Before(end)
	if partial {
		// The candle opened within the last hour is still forming.
		last = now.Add(-time.Hour)
	}

	raw, err := p.feed.Candles(ctx, symbol, anchor, last)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.PriceWindow{}, ctxErr
		}
		if apperrors.Is(err, apperrors.ErrDataUnavailable) {
			return models.PriceWindow{}, err
		}
		return models.PriceWindow{}, apperrors.NewDataError(symbol, anchor, p.feed.Name()+" request failed", err)
	}

	samples := clip(raw, anchor, last)
	if len(samples) == 0 {
		return models.PriceWindow{}, apperrors.NewDataError(symbol, anchor, "no samples in window", nil)
	}

	log := logging.WithSymbol(p.logger, symbol)
	log.Debug().
		Str("feed", p.feed.Name()).
		Bool("partial", partial).
		Int("samples", len(samples)).
		Int("raw", len(raw)).
		Msg("Price window built")

	return models.PriceWindow{
		Symbol:  symbol,
		Anchor:  anchor,
		Hours:   windowHours,
		Samples: samples,
	}, nil
}

// clip keeps candles with anchor < ts <= end, ordered by time, one per
// timestamp.
func clip(raw []models.Candle, anchor, end time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(raw))
	for _, c := range raw {
		if c.Timestamp.After(anchor) && !c.Timestamp.After(end) {
			c.Timestamp = c.Timestamp.UTC()
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	deduped := out[:0]
	for i, c := range out {
		if i > 0 && c.Timestamp.Equal(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, c)
	}
	return deduped
}
