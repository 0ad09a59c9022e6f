package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
)

type stubFeed struct {
	candles []models.Candle
	err     error
	calls   int
}

func (s *stubFeed) Name() string { return "stub" }

func (s *stubFeed) Candles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	s.calls++
	return s.candles, s.err
}

func hourly(start time.Time, closes ...float64) []models.Candle {
	out := make([]models.Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c, Low: c, Close: c, Volume: 10,
		})
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFetchRecentDecisionIsUnavailable(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	feed := &stubFeed{candles: hourly(now.Add(-time.Hour), 100, 101)}
	p := NewWindowProvider(feed, WithClock(fixedClock(now)))

	_, err := p.Fetch(context.Background(), "BTC", now.Add(-2*time.Hour), 24)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	assert.Equal(t, 0, feed.calls, "feed must not be queried before the window has elapsed")
}

func TestFetchPartialWindow(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	// hourly candles from 01:00 through 30:00; the last one is still forming at 30:30
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	feed := &stubFeed{candles: hourly(anchor.Add(time.Hour), closes...)}

	t.Run("after minimum elapsed", func(t *testing.T) {
		p := NewWindowProvider(feed, WithClock(fixedClock(anchor.Add(30*time.Hour+30*time.Minute))))
		w, err := p.Fetch(context.Background(), "BTC", anchor, 48)
		require.NoError(t, err)
		assert.Equal(t, 29, w.Len())
		assert.Equal(t, anchor.Add(29*time.Hour), w.End())
		assert.Equal(t, 48, w.Hours)
	})

	t.Run("before minimum elapsed", func(t *testing.T) {
		p := NewWindowProvider(feed, WithClock(fixedClock(anchor.Add(20*time.Hour))))
		_, err := p.Fetch(context.Background(), "BTC", anchor, 48)
		assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	})

	t.Run("custom minimum", func(t *testing.T) {
		p := NewWindowProvider(feed, WithClock(fixedClock(anchor.Add(30*time.Hour+30*time.Minute))), WithMinElapsedHours(36))
		_, err := p.Fetch(context.Background(), "BTC", anchor, 48)
		assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	})
}

func TestFetchClipsOrdersAndDedupes(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	now := anchor.Add(48 * time.Hour)

	raw := []models.Candle{
		{Timestamp: anchor.Add(-30 * time.Minute), Close: 1},          // before anchor
		{Timestamp: anchor, Close: 2},                                 // at anchor, excluded
		{Timestamp: anchor.Add(150 * time.Minute), Close: 30},         // 12:00
		{Timestamp: anchor.Add(30 * time.Minute), Close: 10},          // 10:00
		{Timestamp: anchor.Add(90 * time.Minute), Close: 20},          // 11:00
		{Timestamp: anchor.Add(90 * time.Minute), Close: 99},          // duplicate 11:00
		{Timestamp: anchor.Add(3 * time.Hour), Close: 40},             // exactly at end
		{Timestamp: anchor.Add(3*time.Hour + time.Minute), Close: 50}, // after end
	}
	p := NewWindowProvider(&stubFeed{candles: raw}, WithClock(fixedClock(now)))

	w, err := p.Fetch(context.Background(), "BTC", anchor, 3)
	require.NoError(t, err)

	require.Equal(t, 4, w.Len())
	closes := make([]float64, 0, w.Len())
	for i, c := range w.Samples {
		closes = append(closes, c.Close)
		assert.True(t, c.Timestamp.After(anchor))
		if i > 0 {
			assert.True(t, c.Timestamp.After(w.Samples[i-1].Timestamp))
		}
	}
	assert.Equal(t, []float64{10, 20, 30, 40}, closes)
	assert.Equal(t, 3, w.Hours)
	assert.Equal(t, "25", w.AverageClose().String())
}

func TestFetchDefaultsWindowHours(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p := NewWindowProvider(&stubFeed{candles: hourly(anchor.Add(time.Hour), 1, 2, 3)}, WithClock(fixedClock(anchor.Add(25*time.Hour))))

	w, err := p.Fetch(context.Background(), "BTC", anchor, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowHours, w.Hours)
	assert.Equal(t, 3, w.Len())
}

func TestFetchFeedFailures(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := WithClock(fixedClock(anchor.Add(30 * time.Hour)))

	t.Run("feed error", func(t *testing.T) {
		p := NewWindowProvider(&stubFeed{err: errors.New("503 service unavailable")}, clock)
		_, err := p.Fetch(context.Background(), "BTC", anchor, 24)
		assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	})

	t.Run("no data", func(t *testing.T) {
		p := NewWindowProvider(&stubFeed{}, clock)
		_, err := p.Fetch(context.Background(), "BTC", anchor, 24)
		assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	})

	t.Run("nothing inside window", func(t *testing.T) {
		p := NewWindowProvider(&stubFeed{candles: hourly(anchor.Add(-5*time.Hour), 1, 2)}, clock)
		_, err := p.Fetch(context.Background(), "BTC", anchor, 24)
		assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := NewWindowProvider(&stubFeed{err: context.Canceled}, clock)
		_, err := p.Fetch(ctx, "BTC", anchor, 24)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, apperrors.ErrDataUnavailable)
	})
}
