package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/rs/zerolog"

	"trade-reflector/internal/logging"
	"trade-reflector/internal/models"
	"trade-reflector/pkg/utils"
)

// YahooFeed fetches hourly bars from Yahoo Finance. It suits equity
// symbols such as AAPL or 005930.KS.
type YahooFeed struct {
	retry  utils.RetryConfig
	logger zerolog.Logger
	bars   func(*chart.Params) ([]models.Candle, error)
}

// NewYahooFeed creates a new Yahoo Finance feed.
func NewYahooFeed(retry utils.RetryConfig, logger zerolog.Logger) *YahooFeed {
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return &YahooFeed{
		retry:  retry,
		logger: logger,
		bars:   chartBars,
	}
}

// Name returns the feed name.
func (f *YahooFeed) Name() string { return "yahoo" }

// Candles returns hourly bars between from and to, padded by an hour on
// each side.
func (f *YahooFeed) Candles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	start := from.Add(-time.Hour)
	end := to.Add(time.Hour)

	began := time.Now()
	candles, err := utils.RetryWithResult(ctx, f.retry, func(ctx context.Context) ([]models.Candle, error) {
		return f.bars(&chart.Params{
			Params:   finance.Params{Context: &ctx},
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneHour,
		})
	})
	logging.LogAPICall(f.logger, f.Name(), "chart", time.Since(began), err)
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	return candles, nil
}

func chartBars(params *chart.Params) ([]models.Candle, error) {
	iter := chart.Get(params)

	var out []models.Candle
	for iter.Next() {
		bar := iter.Bar()
		out = append(out, models.Candle{
			Timestamp: time.Unix(int64(bar.Timestamp), 0).UTC(),
			Open:      bar.Open.InexactFloat64(),
			High:      bar.High.InexactFloat64(),
			Low:       bar.Low.InexactFloat64(),
			Close:     bar.Close.InexactFloat64(),
			Volume:    float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
