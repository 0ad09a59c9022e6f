package pricefeed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trade-reflector/internal/models"
)

// CandleCache persists candles per symbol and timeframe.
type CandleCache interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// CachedFeed serves complete windows from a CandleCache and falls back to
// the wrapped feed otherwise. Only candles whose hour has closed are
// cached, since an open candle's close still moves.
type CachedFeed struct {
	feed   Feed
	cache  CandleCache
	now    func() time.Time
	logger zerolog.Logger
}

// NewCachedFeed wraps feed with cache.
func NewCachedFeed(feed Feed, cache CandleCache, logger zerolog.Logger) *CachedFeed {
	return &CachedFeed{
		feed:   feed,
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
}

// Name returns the wrapped feed name.
func (f *CachedFeed) Name() string { return f.feed.Name() }

// Candles returns cached candles when every hour of (from, to] is present.
func (f *CachedFeed) Candles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	want := int(to.Sub(from) / time.Hour)

	cached, err := f.cache.GetCandles(ctx, f.key(symbol), Timeframe, from.Add(time.Second), to)
	if err != nil {
		f.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache read failed")
	} else if want > 0 && len(cached) >= want {
		f.logger.Debug().Str("symbol", symbol).Int("candles", len(cached)).Msg("Candle cache hit")
		return cached, nil
	}

	fresh, err := f.feed.Candles(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	closed := make([]models.Candle, 0, len(fresh))
	cutoff := f.now()
	for _, c := range fresh {
		if !c.Timestamp.Add(time.Hour).After(cutoff) {
			closed = append(closed, c)
		}
	}
	if err := f.cache.SaveCandles(ctx, f.key(symbol), Timeframe, closed); err != nil {
		f.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache write failed")
	}
	return fresh, nil
}

func (f *CachedFeed) key(symbol string) string {
	return f.feed.Name() + ":" + symbol
}
