package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/tidwall/gjson"
)

// Quote returns the last traded price for symbol
func (g *Gateway) Quote(ctx context.Context, symbol string) (float64, error) {
	body, err := g.do(ctx, request{
		method: http.MethodGet,
		path:   "/data/quotes",
		query:  url.Values{"symbols": {symbol}},
		signed: true,
	})
	if err != nil {
		return 0, err
	}
	lp := gjson.GetBytes(body, "d.0.v.lp")
	if !lp.Exists() {
		return 0, fmt.Errorf("quote for %s has no last price: %s", symbol, string(body))
	}
	return lp.Float(), nil
}

// History returns candles for symbol between from and to (unix seconds)
func (g *Gateway) History(ctx context.Context, symbol, resolution string, from, to time.Time) ([]types.Candle, error) {
	body, err := g.do(ctx, request{
		method: http.MethodGet,
		path:   "/data/history",
		query: url.Values{
			"symbol":      {symbol},
			"resolution":  {resolution},
			"date_format": {"0"},
			"range_from":  {strconv.FormatInt(from.Unix(), 10)},
			"range_to":    {strconv.FormatInt(to.Unix(), 10)},
			"cont_flag":   {"1"},
		},
		signed: true,
	})
	if err != nil {
		return nil, err
	}

	rows := gjson.GetBytes(body, "candles").Array()
	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		fields := row.Array()
		if len(fields) < 6 {
			continue
		}
		candles = append(candles, types.Candle{
			Timestamp: fields[0].Int(),
			Open:      fields[1].Float(),
			High:      fields[2].Float(),
			Low:       fields[3].Float(),
			Close:     fields[4].Float(),
			Volume:    fields[5].Float(),
		})
	}
	return candles, nil
}

// Feed adapts the gateway to the engine's market data needs
type Feed struct {
	gateway    *Gateway
	resolution string
	window     time.Duration
}

func NewFeed(gateway *Gateway, resolution string) *Feed {
	return &Feed{gateway: gateway, resolution: resolution, window: 5 * 24 * time.Hour}
}

// LatestCandles returns at most lookback of the most recent candles
func (f *Feed) LatestCandles(ctx context.Context, symbol string, lookback int) ([]types.Candle, error) {
	now := f.gateway.now()
	candles, err := f.gateway.History(ctx, symbol, f.resolution, now.Add(-f.window), now)
	if err != nil {
		return nil, err
	}
	if lookback > 0 && len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	return candles, nil
}

func (f *Feed) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	return f.gateway.Quote(ctx, symbol)
}
