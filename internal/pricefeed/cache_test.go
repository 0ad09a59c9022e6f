package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-reflector/internal/models"
)

type memCache struct {
	data  map[string][]models.Candle
	saves int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]models.Candle{}}
}

func (m *memCache) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	m.saves++
	m.data[symbol+"|"+timeframe] = append(m.data[symbol+"|"+timeframe], candles...)
	return nil
}

func (m *memCache) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range m.data[symbol+"|"+timeframe] {
		if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestCachedFeedServesCompleteWindows(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := anchor.Add(3 * time.Hour)
	inner := &stubFeed{candles: hourly(anchor.Add(time.Hour), 10, 11, 12)}
	cache := newMemCache()

	feed := NewCachedFeed(inner, cache, zerolog.Nop())
	feed.now = fixedClock(anchor.Add(10 * time.Hour))

	first, err := feed.Candles(context.Background(), "BTC", anchor, to)
	require.NoError(t, err)
	assert.Len(t, first, 3)
	assert.Equal(t, 1, inner.calls)
	assert.Len(t, cache.data["stub:BTC|1h"], 3)

	second, err := feed.Candles(context.Background(), "BTC", anchor, to)
	require.NoError(t, err)
	assert.Len(t, second, 3)
	assert.Equal(t, 1, inner.calls, "complete window should come from the cache")
}

func TestCachedFeedSkipsOpenCandles(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	inner := &stubFeed{candles: hourly(anchor.Add(time.Hour), 10, 11, 12)}
	cache := newMemCache()

	feed := NewCachedFeed(inner, cache, zerolog.Nop())
	// The 03:00 candle is still open at 03:30.
	feed.now = fixedClock(anchor.Add(3*time.Hour + 30*time.Minute))

	got, err := feed.Candles(context.Background(), "BTC", anchor, anchor.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Len(t, cache.data["stub:BTC|1h"], 2)

	_, err = feed.Candles(context.Background(), "BTC", anchor, anchor.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "incomplete cache must fall through to the feed")
	assert.Equal(t, "stub", feed.Name())
}
