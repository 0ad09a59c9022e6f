package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"trade-reflector/internal/logging"
	"trade-reflector/internal/models"
)

const (
	upbitDefaultBaseURL = "https://api.upbit.com"
	upbitHourlyPath     = "/v1/candles/minutes/60"
	upbitMaxCount       = 200
	upbitTimeLayout     = "2006-01-02T15:04:05"
)

// UpbitConfig configures the Upbit candle feed.
type UpbitConfig struct {
	BaseURL       string
	QuoteCurrency string // market prefix, e.g. KRW
	Timeout       time.Duration
	RetryCount    int
}

// UpbitFeed fetches hourly candles from the Upbit quotation API.
type UpbitFeed struct {
	client *resty.Client
	quote  string
	logger zerolog.Logger
}

type upbitCandle struct {
	Market               string  `json:"market"`
	CandleDateTimeUTC    string  `json:"candle_date_time_utc"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
}

type upbitError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewUpbitFeed creates a new Upbit feed.
func NewUpbitFeed(cfg UpbitConfig, logger zerolog.Logger) *UpbitFeed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = upbitDefaultBaseURL
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "KRW"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &UpbitFeed{
		client: client,
		quote:  strings.ToUpper(cfg.QuoteCurrency),
		logger: logger,
	}
}

// Name returns the feed name.
func (f *UpbitFeed) Name() string { return "upbit" }

// Market maps a bare symbol to an Upbit market code (BTC -> KRW-BTC).
// Symbols that already carry a market prefix are passed through.
func (f *UpbitFeed) Market(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		return symbol
	}
	return f.quote + "-" + symbol
}

// Candles returns the hourly candles that opened in (from, to].
func (f *UpbitFeed) Candles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	hours := int(to.Sub(from)/time.Hour) + 2
	if hours > upbitMaxCount {
		hours = upbitMaxCount
	}
	market := f.Market(symbol)

	var (
		result []upbitCandle
		apiErr upbitError
	)
	start := time.Now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"market": market,
			// "to" is exclusive; push it one hour out so the candle opening at
			// the window end is included.
			"to":    to.UTC().Add(time.Hour).Format(time.RFC3339),
			"count": strconv.Itoa(hours),
		}).
		SetResult(&result).
		SetError(&apiErr).
		Get(upbitHourlyPath)
	logging.LogAPICall(f.logger, f.Name(), upbitHourlyPath, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("upbit candles %s: %w", market, err)
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return nil, fmt.Errorf("upbit candles %s: status %d: %s: %s", market, resp.StatusCode(), apiErr.Error.Name, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("upbit candles %s: status %d", market, resp.StatusCode())
	}

	candles := make([]models.Candle, 0, len(result))
	for _, c := range result {
		ts, err := time.ParseInLocation(upbitTimeLayout, c.CandleDateTimeUTC, time.UTC)
		if err != nil {
			f.logger.Warn().Str("market", market).Str("value", c.CandleDateTimeUTC).Msg("Skipping candle with bad timestamp")
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      c.OpeningPrice,
			High:      c.HighPrice,
			Low:       c.LowPrice,
			Close:     c.TradePrice,
			Volume:    c.CandleAccTradeVolume,
		})
	}
	return candles, nil
}
