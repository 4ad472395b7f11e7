package execution

import (
	"context"
	"fmt"

	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
)

const (
	StatusFilled         = "filled"
	StatusClosed         = "closed"
	StatusNoOpenPosition = "no_open_position"
)

// OrderPlacer is the part of the broker gateway the executor needs
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResponse, error)
}

type ModeSource interface {
	Current() types.Mode
}

// Journal records orders and closed trades. Journal failures are logged, never fatal.
type Journal interface {
	SaveOrder(record *journal.OrderRecord) error
	SaveTrade(trade types.Trade) error
}

// Result describes what an entry or exit did
type Result struct {
	Status        string               `json:"status"`
	Mode          types.Mode           `json:"mode,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	Position      *types.Position      `json:"position,omitempty"`
	Trade         *types.Trade         `json:"trade,omitempty"`
	PnL           float64              `json:"pnl"`
	Reason        string               `json:"reason,omitempty"`
	Order         *types.OrderResponse `json:"order,omitempty"`
	Broker        string               `json:"broker"`
}

// Executor turns approved signals into ledger changes, placing broker
// orders first when the mode is LIVE.
type Executor struct {
	mode    ModeSource
	ledger  *ledger.Ledger
	broker  OrderPlacer
	journal Journal
	logger  zerolog.Logger
}

func New(mode ModeSource, l *ledger.Ledger, broker OrderPlacer, j Journal, logger zerolog.Logger) *Executor {
	return &Executor{
		mode:    mode,
		ledger:  l,
		broker:  broker,
		journal: j,
		logger:  logger.With().Str("component", "execution").Logger(),
	}
}

// EnterTrade opens a position for signal at ltp. In LIVE mode the market
// order goes out first and the position is booked at ltp, not the fill price.
func (e *Executor) EnterTrade(ctx context.Context, signal types.PendingSignal, ltp float64) (*Result, error) {
	if e.ledger.HasOpenPosition() {
		return nil, ledger.ErrPositionExists
	}

	mode := e.mode.Current()
	logger := e.logger.With().
		Str("correlation_id", signal.CorrelationID).
		Str("mode", string(mode)).
		Str("side", string(signal.Side)).
		Int("qty", signal.Quantity).
		Float64("price", ltp).
		Logger()

	result := &Result{Mode: mode, CorrelationID: signal.CorrelationID, Broker: "simulator"}
	if mode == types.ModeLive {
		order := types.OrderRequest{
			Symbol:      signal.Symbol,
			Side:        signal.Side,
			Quantity:    signal.Quantity,
			OrderType:   types.OrderTypeMarket,
			ProductType: types.ProductIntraday,
		}
		resp, err := e.submit(ctx, order, journal.PurposeEntry, signal.CorrelationID)
		if err != nil {
			logger.Error().Err(err).Msg("entry order failed, no position opened")
			return nil, fmt.Errorf("entry order failed: %w", err)
		}
		result.Order = resp
		result.Broker = "live"
	}

	position, err := e.ledger.OpenTrade(types.Position{
		Symbol:        signal.Symbol,
		Side:          signal.Side,
		Quantity:      signal.Quantity,
		EntryPrice:    ltp,
		StopLoss:      signal.StopLoss,
		Target:        signal.Target,
		Mode:          mode,
		CorrelationID: signal.CorrelationID,
	})
	if err != nil {
		if mode == types.ModeLive {
			logger.Error().Err(err).Msg("entry order placed but ledger refused the position, reconcile with broker")
		}
		return nil, err
	}

	result.Status = StatusFilled
	result.Position = &position
	logger.Info().Msg("trade entered")
	return result, nil
}

// ExitTrade closes the open position at ltp. In LIVE mode the offsetting
// order goes out first; if it fails the position stays open.
func (e *Executor) ExitTrade(ctx context.Context, ltp float64, reason string) (*Result, error) {
	position, ok := e.ledger.OpenPosition()
	if !ok {
		return &Result{Status: StatusNoOpenPosition, Mode: e.mode.Current(), Reason: reason}, nil
	}

	logger := e.logger.With().
		Str("correlation_id", position.CorrelationID).
		Str("mode", string(position.Mode)).
		Str("side", string(position.Side)).
		Int("qty", position.Quantity).
		Float64("price", ltp).
		Str("reason", reason).
		Logger()

	result := &Result{Mode: position.Mode, CorrelationID: position.CorrelationID, Reason: reason, Broker: "simulator"}
	if position.Mode == types.ModeLive {
		order := types.OrderRequest{
			Symbol:      position.Symbol,
			Side:        position.Side.Opposite(),
			Quantity:    position.Quantity,
			OrderType:   types.OrderTypeMarket,
			ProductType: types.ProductIntraday,
		}
		resp, err := e.submit(ctx, order, journal.PurposeExit, position.CorrelationID)
		if err != nil {
			logger.Error().Err(err).Msg("exit order failed, position still open")
			return nil, fmt.Errorf("exit order failed: %w", err)
		}
		result.Order = resp
		result.Broker = "live"
	}

	pnl, trade := e.ledger.CloseTrade(ltp, reason)
	if trade == nil {
		return &Result{Status: StatusNoOpenPosition, Mode: position.Mode, Reason: reason}, nil
	}
	if e.journal != nil {
		if err := e.journal.SaveTrade(*trade); err != nil {
			logger.Error().Err(err).Msg("failed to journal trade")
		}
	}

	result.Status = StatusClosed
	result.PnL = pnl
	result.Trade = trade
	logger.Info().Float64("pnl", pnl).Msg("trade exited")
	return result, nil
}

func (e *Executor) submit(ctx context.Context, order types.OrderRequest, purpose, correlationID string) (*types.OrderResponse, error) {
	resp, err := e.broker.PlaceOrder(ctx, order)

	if e.journal != nil {
		record := &journal.OrderRecord{
			CorrelationID: correlationID,
			Purpose:       purpose,
			Symbol:        order.Symbol,
			Side:          string(order.Side),
			Quantity:      order.Quantity,
			OrderType:     order.OrderType,
			ProductType:   order.ProductType,
			Status:        journal.OrderPlaced,
		}
		if err != nil {
			record.Status = journal.OrderFailed
			record.Message = err.Error()
		} else {
			record.BrokerOrderID = resp.OrderID
			record.Message = resp.Message
		}
		if jerr := e.journal.SaveOrder(record); jerr != nil {
			e.logger.Error().Err(jerr).Str("correlation_id", correlationID).Msg("failed to journal order")
		}
	}
	return resp, err
}
