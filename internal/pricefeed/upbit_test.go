package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trade-reflector/internal/errors"
)

const upbitBody = `[
  {"market":"KRW-BTC","candle_date_time_utc":"2024-06-01T02:00:00","candle_date_time_kst":"2024-06-01T11:00:00",
   "opening_price":101.0,"high_price":104.0,"low_price":100.0,"trade_price":103.0,"timestamp":1717210799000,
   "candle_acc_trade_price":1000.0,"candle_acc_trade_volume":12.5,"unit":60},
  {"market":"KRW-BTC","candle_date_time_utc":"2024-06-01T01:00:00","candle_date_time_kst":"2024-06-01T10:00:00",
   "opening_price":100.0,"high_price":102.0,"low_price":99.0,"trade_price":101.0,"timestamp":1717207199000,
   "candle_acc_trade_price":900.0,"candle_acc_trade_volume":8.25,"unit":60}
]`

func TestUpbitFeedCandles(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/minutes/60", r.URL.Path)
		gotQuery = map[string]string{
			"market": r.URL.Query().Get("market"),
			"to":     r.URL.Query().Get("to"),
			"count":  r.URL.Query().Get("count"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upbitBody))
	}))
	defer srv.Close()

	feed := NewUpbitFeed(UpbitConfig{BaseURL: srv.URL}, zerolog.Nop())
	from := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)

	candles, err := feed.Candles(context.Background(), "btc", from, to)
	require.NoError(t, err)

	assert.Equal(t, "KRW-BTC", gotQuery["market"])
	assert.Equal(t, "2024-06-01T03:30:00Z", gotQuery["to"])
	assert.Equal(t, "4", gotQuery["count"])

	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC), candles[0].Timestamp)
	assert.Equal(t, 103.0, candles[0].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
	assert.Equal(t, 99.0, candles[1].Low)
}

func TestUpbitFeedWithProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upbitBody))
	}))
	defer srv.Close()

	anchor := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)
	p := NewWindowProvider(NewUpbitFeed(UpbitConfig{BaseURL: srv.URL}, zerolog.Nop()), WithClock(fixedClock(anchor.Add(26*time.Hour))))

	w, err := p.Fetch(context.Background(), "BTC", anchor, 24)
	require.NoError(t, err)
	require.Equal(t, 2, w.Len())
	assert.True(t, w.Samples[0].Timestamp.Before(w.Samples[1].Timestamp))
	assert.Equal(t, "102", w.AverageClose().String())
}

func TestUpbitFeedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"name":"404","message":"Code not found"}}`))
	}))
	defer srv.Close()

	feed := NewUpbitFeed(UpbitConfig{BaseURL: srv.URL}, zerolog.Nop())
	anchor := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := feed.Candles(context.Background(), "NOPE", anchor, anchor.Add(24*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Code not found")

	p := NewWindowProvider(feed, WithClock(fixedClock(anchor.Add(48*time.Hour))))
	_, err = p.Fetch(context.Background(), "NOPE", anchor, 24)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
}

func TestUpbitMarket(t *testing.T) {
	feed := NewUpbitFeed(UpbitConfig{QuoteCurrency: "usdt"}, zerolog.Nop())
	assert.Equal(t, "USDT-ETH", feed.Market("eth"))
	assert.Equal(t, "KRW-ADA", feed.Market("krw-ada"))
}
