package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Config holds the risk limits. Cutoffs are wall-clock "HH:MM" values in Location.
type Config struct {
	Capital          float64
	RiskFraction     float64
	MaxTradesPerDay  int
	MaxLossesPerDay  int
	NoNewTradesAfter string
	SquareOffAt      string
	Location         *time.Location
	Exits            ExitPolicy
}

// Decision is the answer to "may a new trade open now?"
type Decision struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// Gate makes the pre-trade decisions: sizing, daily limits and the session
// cutoffs. Counters roll over lazily the first time it is used on a new day.
type Gate struct {
	mu        sync.Mutex
	cfg       Config
	cutoff    clock
	squareOff clock
	state     types.RiskState
	now       func() time.Time
	logger    zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) (*Gate, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Exits == nil {
		cfg.Exits = FixedOffsets{Stop: 50, Target: 100}
	}
	cutoff, err := parseClock(cfg.NoNewTradesAfter)
	if err != nil {
		return nil, fmt.Errorf("no-new-trades cutoff: %w", err)
	}
	squareOff, err := parseClock(cfg.SquareOffAt)
	if err != nil {
		return nil, fmt.Errorf("square-off cutoff: %w", err)
	}

	g := &Gate{
		cfg:       cfg,
		cutoff:    cutoff,
		squareOff: squareOff,
		now:       time.Now,
		logger:    logger.With().Str("component", "risk").Logger(),
	}
	g.state.LastResetDate = g.dateOf(g.now())
	return g, nil
}

// SetClock replaces the time source used for day rollover
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	g.state.LastResetDate = g.dateOf(now())
}

// PositionSize returns floor(capital * riskFraction / |entry - stop|), or 0
// when there is no usable stop distance.
func (g *Gate) PositionSize(entry, stop float64) int {
	distance := math.Abs(entry - stop)
	if distance == 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		return 0
	}
	budget := decimal.NewFromFloat(g.cfg.Capital).Mul(decimal.NewFromFloat(g.cfg.RiskFraction))
	if !budget.IsPositive() {
		return 0
	}
	return int(budget.Div(decimal.NewFromFloat(distance)).Floor().IntPart())
}

// ExitLevels applies the configured exit policy to an entry price
func (g *Gate) ExitLevels(side types.Side, entry float64) (stop, target float64) {
	return g.cfg.Exits.Levels(side, entry)
}

func (g *Gate) CanOpenNewTrade(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(now)

	switch {
	case g.cutoff.reached(now.In(g.cfg.Location)):
		return Decision{Blocked: true, Reason: fmt.Sprintf("no new trades after %s", g.cutoff)}
	case g.state.TradesToday >= g.cfg.MaxTradesPerDay:
		return Decision{Blocked: true, Reason: fmt.Sprintf("max trades per day reached (%d/%d)", g.state.TradesToday, g.cfg.MaxTradesPerDay)}
	case g.state.LossesToday >= g.cfg.MaxLossesPerDay:
		return Decision{Blocked: true, Reason: fmt.Sprintf("max losses per day reached (%d/%d)", g.state.LossesToday, g.cfg.MaxLossesPerDay)}
	}
	return Decision{}
}

// RegisterTrade records one realized trade. It must be called exactly once per exit.
func (g *Gate) RegisterTrade(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(g.now())

	g.state.TradesToday++
	if pnl < 0 {
		g.state.LossesToday++
	}
	g.logger.Info().
		Float64("pnl", pnl).
		Int("trades_today", g.state.TradesToday).
		Int("losses_today", g.state.LossesToday).
		Msg("trade registered")
}

// ShouldForceSquareOff is true once the hard end-of-session cutoff has passed
func (g *Gate) ShouldForceSquareOff(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(now)
	return g.squareOff.reached(now.In(g.cfg.Location))
}

func (g *Gate) Snapshot() types.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(g.now())
	return g.state
}

// Restore re-seeds today's counters from the realized pnl of trades closed
// earlier today, so a restart cannot reset the daily limits.
func (g *Gate) Restore(pnls []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = types.RiskState{LastResetDate: g.dateOf(g.now())}
	for _, pnl := range pnls {
		g.state.TradesToday++
		if pnl < 0 {
			g.state.LossesToday++
		}
	}
	g.logger.Info().Int("trades_today", g.state.TradesToday).Int("losses_today", g.state.LossesToday).Msg("risk counters restored")
}

// StartOfDay returns midnight of now's trading day in the market time zone
func (g *Gate) StartOfDay(now time.Time) time.Time {
	local := now.In(g.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.cfg.Location)
}

func (g *Gate) rollover(now time.Time) {
	today := g.dateOf(now)
	if today == g.state.LastResetDate {
		return
	}
	g.logger.Info().Str("from", g.state.LastResetDate).Str("to", today).Msg("new trading day, risk counters reset")
	g.state = types.RiskState{LastResetDate: today}
}

func (g *Gate) dateOf(t time.Time) string {
	return t.In(g.cfg.Location).Format(dateLayout)
}
