package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidOrder = errors.New("invalid order")

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that offsets a position opened on s
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for BUY and -1 for SELL
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// ParseMode converts user input into a Mode, rejecting anything unknown
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	ProductIntraday = "INTRADAY"
)

type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Position is the single open position held by the ledger
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	Target     float64   `json:"target"`
	Mode       Mode      `json:"mode"`
	EntryTime  time.Time `json:"entry_time"`
	// CorrelationID ties the position to the signal that opened it
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Trade is a closed position. Trades are never mutated after creation.
type Trade struct {
	Position
	ExitPrice  float64   `json:"exit_price"`
	ExitTime   time.Time `json:"exit_time"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exit_reason"`
}

// PendingSignal is a proposed trade waiting for operator approval
type PendingSignal struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      int       `json:"qty"`
	StopLoss      float64   `json:"stop_loss"`
	Target        float64   `json:"target"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (p PendingSignal) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Quantity    int     `json:"qty"`
	OrderType   string  `json:"order_type"`
	ProductType string  `json:"product_type"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
}

func (o OrderRequest) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	}
	switch o.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit order needs a positive price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unsupported order type %q", ErrInvalidOrder, o.OrderType)
	}
	return nil
}

// DedupeKey identifies literal duplicates of an order while it is in flight
func (o OrderRequest) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%d|%s", o.Symbol, o.Side, o.Quantity, o.OrderType)
}
