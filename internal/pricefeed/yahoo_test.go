package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-reflector/internal/models"
	"trade-reflector/pkg/utils"
)

func TestYahooFeedRetries(t *testing.T) {
	retry := utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	feed := NewYahooFeed(retry, zerolog.Nop())

	from := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	calls := 0
	var seen *chart.Params
	feed.bars = func(p *chart.Params) ([]models.Candle, error) {
		calls++
		seen = p
		if calls == 1 {
			return nil, errors.New("remote error")
		}
		return hourly(from.Add(time.Hour), 180, 181), nil
	}

	got, err := feed.Candles(context.Background(), "aapl", from, to)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, calls)

	require.NotNil(t, seen)
	assert.Equal(t, "AAPL", seen.Symbol)
	assert.Equal(t, datetime.OneHour, seen.Interval)
	assert.NotNil(t, seen.Start)
	assert.NotNil(t, seen.End)
}

func TestYahooFeedGivesUp(t *testing.T) {
	retry := utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	feed := NewYahooFeed(retry, zerolog.Nop())
	feed.bars = func(*chart.Params) ([]models.Candle, error) {
		return nil, errors.New("no data found")
	}

	_, err := feed.Candles(context.Background(), "ZZZZ", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yahoo chart ZZZZ")
}
