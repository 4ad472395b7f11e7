package engine

import (
	"context"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/shopspring/decimal"
)

type Status struct {
	Running          bool                 `json:"running"`
	Mode             types.Mode           `json:"mode"`
	Symbol           string               `json:"symbol"`
	Pending          *types.PendingSignal `json:"pending_signal"`
	PendingRemaining float64              `json:"pending_seconds_remaining,omitempty"`
	OpenPosition     *types.Position      `json:"open_position"`
	Risk             types.RiskState      `json:"risk"`
	Stats            ledger.Stats         `json:"stats"`
	LastEvaluation   *Evaluation          `json:"last_evaluation"`
}

func (e *Engine) Status() Status {
	s := Status{
		Running: e.Running(),
		Mode:    e.mode.Current(),
		Symbol:  e.cfg.Symbol,
		Pending: e.Pending(),
		Risk:    e.risk.Snapshot(),
		Stats:   e.ledger.Stats(),
	}
	s.OpenPosition = s.Stats.OpenPosition
	if s.Pending != nil {
		if remaining := s.Pending.ExpiresAt.Sub(e.now()); remaining > 0 {
			s.PendingRemaining = remaining.Round(time.Millisecond).Seconds()
		}
	}
	s.LastEvaluation = e.LatestEvaluation()
	return s
}

func (e *Engine) LatestEvaluation() *Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	ev := *e.last
	return &ev
}

// LatestSignal is the read-only view of the last evaluation. It never
// evaluates, so it cannot trigger an exit.
func (e *Engine) LatestSignal() Evaluation {
	if ev := e.LatestEvaluation(); ev != nil {
		return *ev
	}
	return Evaluation{Status: StatusNotEvaluated, At: e.now()}
}

// Signal returns the poll loop's latest evaluation while the engine runs,
// and evaluates on demand otherwise.
func (e *Engine) Signal(ctx context.Context) Evaluation {
	if e.Running() {
		if ev := e.LatestEvaluation(); ev != nil {
			return *ev
		}
	}
	return e.EvaluateMarket(ctx)
}

type PnL struct {
	TodayPnL    float64 `json:"today_pnl"`
	Unrealized  float64 `json:"unrealized_pnl"`
	RealizedPnL float64 `json:"realized_pnl"`
	Drawdown    float64 `json:"drawdown"`
	WinRate     float64 `json:"win_rate"`
	TotalTrades int     `json:"total_trades"`
}

// PnL reports realized pnl for trades closed today plus the open position
// marked at the last evaluated price.
func (e *Engine) PnL() PnL {
	stats := e.ledger.Stats()
	startOfDay := e.risk.StartOfDay(e.now())

	today := decimal.Zero
	for _, t := range e.ledger.Trades() {
		if !t.ExitTime.Before(startOfDay) {
			today = today.Add(decimal.NewFromFloat(t.PnL))
		}
	}

	out := PnL{
		TodayPnL:    today.InexactFloat64(),
		RealizedPnL: stats.RealizedPnL,
		Drawdown:    stats.MaxDrawdown,
		WinRate:     stats.WinRate,
		TotalTrades: stats.TotalTrades,
	}
	if ev := e.LatestEvaluation(); ev != nil && ev.LTP > 0 && stats.OpenPosition != nil {
		p := stats.OpenPosition
		out.Unrealized = ledger.PnL(p.Side, p.EntryPrice, ev.LTP, p.Quantity).InexactFloat64()
	}
	return out
}

type Health struct {
	Status        string     `json:"status"`
	Mode          types.Mode `json:"mode"`
	BrokerAuth    *bool      `json:"fyers_auth_valid"`
	OpenPosition  bool       `json:"open_position"`
	EngineRunning bool       `json:"engine_running"`
}

// Health only checks broker auth in LIVE mode; in PAPER it is reported as null
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:        "ok",
		Mode:          e.mode.Current(),
		OpenPosition:  e.ledger.HasOpenPosition(),
		EngineRunning: e.Running(),
	}
	if h.Mode == types.ModeLive && e.auth != nil {
		valid := e.auth.ValidateToken(ctx, false)
		h.BrokerAuth = &valid
		if !valid {
			h.Status = "degraded"
		}
	}
	return h
}

func (e *Engine) Trades() []types.Trade {
	return e.ledger.Trades()
}

func (e *Engine) Mode() types.Mode {
	return e.mode.Current()
}
