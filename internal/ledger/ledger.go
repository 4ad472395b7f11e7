package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/shopspring/decimal"
)

var (
	ErrPositionExists  = errors.New("a position is already open")
	ErrInvalidPosition = errors.New("invalid position")
)

// Stats summarizes realized performance
type Stats struct {
	RealizedPnL  float64         `json:"realized_pnl"`
	TotalTrades  int             `json:"total_trades"`
	Wins         int             `json:"wins"`
	WinRate      float64         `json:"win_rate"`
	MaxDrawdown  float64         `json:"max_drawdown"`
	OpenPosition *types.Position `json:"open_position"`
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Ledger holds the single open position and the closed trade history.
// Every method runs under one mutex, so check-then-open cannot race.
type Ledger struct {
	mu          sync.Mutex
	open        *types.Position
	trades      []types.Trade
	realized    decimal.Decimal
	peak        decimal.Decimal
	maxDrawdown decimal.Decimal
	wins        int
	curve       []EquityPoint
	now         func() time.Time
}

func New() *Ledger {
	return &Ledger{now: time.Now}
}

func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// PnL is (exit - entry) * qty, negated for SELL
func PnL(side types.Side, entry, exit float64, qty int) decimal.Decimal {
	return decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromInt(int64(qty))).
		Mul(decimal.NewFromFloat(side.Sign()))
}

func (l *Ledger) OpenTrade(p types.Position) (types.Position, error) {
	if p.Quantity <= 0 || !p.Side.Valid() || p.EntryPrice <= 0 {
		return types.Position{}, fmt.Errorf("%w: %s %d @ %.2f", ErrInvalidPosition, p.Side, p.Quantity, p.EntryPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open != nil {
		return types.Position{}, ErrPositionExists
	}
	if p.EntryTime.IsZero() {
		p.EntryTime = l.now()
	}
	l.open = &p
	return p, nil
}

// CloseTrade books the open position at exitPrice. It returns 0 and nil when flat.
func (l *Ledger) CloseTrade(exitPrice float64, reason string) (float64, *types.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open == nil {
		return 0, nil
	}

	pnl := PnL(l.open.Side, l.open.EntryPrice, exitPrice, l.open.Quantity)
	trade := types.Trade{
		Position:   *l.open,
		ExitPrice:  exitPrice,
		ExitTime:   l.now(),
		PnL:        pnl.InexactFloat64(),
		ExitReason: reason,
	}
	l.open = nil
	l.book(trade, pnl)
	return trade.PnL, &trade
}

func (l *Ledger) book(trade types.Trade, pnl decimal.Decimal) {
	l.trades = append(l.trades, trade)
	if pnl.IsPositive() {
		l.wins++
	}

	l.realized = l.realized.Add(pnl)
	if l.realized.GreaterThan(l.peak) {
		l.peak = l.realized
	}
	if dd := l.peak.Sub(l.realized); dd.GreaterThan(l.maxDrawdown) {
		l.maxDrawdown = dd
	}
	l.curve = append(l.curve, EquityPoint{Time: trade.ExitTime, Equity: l.realized.InexactFloat64()})
}

func (l *Ledger) HasOpenPosition() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open != nil
}

func (l *Ledger) OpenPosition() (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open == nil {
		return types.Position{}, false
	}
	return *l.open, true
}

// MarkToMarket returns realized pnl plus the unrealized pnl of the open
// position at ltp. It never changes state.
func (l *Ledger) MarkToMarket(ltp float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.realized
	if l.open != nil {
		total = total.Add(PnL(l.open.Side, l.open.EntryPrice, ltp, l.open.Quantity))
	}
	return total.InexactFloat64()
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		RealizedPnL: l.realized.InexactFloat64(),
		TotalTrades: len(l.trades),
		Wins:        l.wins,
		MaxDrawdown: l.maxDrawdown.InexactFloat64(),
	}
	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(l.wins)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Round(4).InexactFloat64()
	}
	if l.open != nil {
		p := *l.open
		s.OpenPosition = &p
	}
	return s
}

func (l *Ledger) Trades() []types.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) EquityCurve() []EquityPoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EquityPoint, len(l.curve))
	copy(out, l.curve)
	return out
}

// Restore replays previously journaled trades into an empty ledger
func (l *Ledger) Restore(trades []types.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open != nil || len(l.trades) > 0 {
		return fmt.Errorf("restore needs an empty ledger")
	}
	for _, t := range trades {
		l.book(t, decimal.NewFromFloat(t.PnL))
	}
	return nil
}
