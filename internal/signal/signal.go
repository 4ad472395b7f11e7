package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var ErrBadDecision = errors.New("signal source returned an unusable decision")

// Source decides a trade direction from a candle series. ok is false when
// there is no trade to propose.
type Source interface {
	Decide(ctx context.Context, candles []types.Candle) (side types.Side, ok bool, err error)
}

// None never proposes a trade
type None struct{}

func (None) Decide(context.Context, []types.Candle) (types.Side, bool, error) {
	return "", false, nil
}

// Func adapts a plain function into a Source
type Func func(ctx context.Context, candles []types.Candle) (types.Side, bool, error)

func (f Func) Decide(ctx context.Context, candles []types.Candle) (types.Side, bool, error) {
	return f(ctx, candles)
}

// Bridge asks an HTTP sidecar for the decision. The sidecar receives
// {"symbol": ..., "candles": [...]} and answers {"signal": "BUY"|"SELL"|null}.
type Bridge struct {
	url    string
	symbol string
	client *http.Client
	logger zerolog.Logger
}

func NewBridge(url, symbol string, timeout time.Duration, logger zerolog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{
		url:    strings.TrimRight(url, "/"),
		symbol: symbol,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "signal").Logger(),
	}
}

type decideRequest struct {
	Symbol  string         `json:"symbol"`
	Candles []types.Candle `json:"candles"`
}

func (b *Bridge) Decide(ctx context.Context, candles []types.Candle) (types.Side, bool, error) {
	payload, err := json.Marshal(decideRequest{Symbol: b.symbol, Candles: candles})
	if err != nil {
		return "", false, fmt.Errorf("failed to encode candles: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("signal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("failed to read signal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("signal service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseDecision(body)
}

func parseDecision(body []byte) (types.Side, bool, error) {
	if !gjson.ValidBytes(body) {
		return "", false, fmt.Errorf("%w: invalid json", ErrBadDecision)
	}
	value := gjson.GetBytes(body, "signal")
	if !value.Exists() || value.Type == gjson.Null || value.String() == "" {
		return "", false, nil
	}

	side := types.Side(strings.ToUpper(value.String()))
	if !side.Valid() {
		return "", false, fmt.Errorf("%w: %q", ErrBadDecision, value.String())
	}
	return side, true, nil
}
