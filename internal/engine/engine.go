package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/proxyhifi-dev/Bot/internal/execution"
	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/mode"
	"github.com/proxyhifi-dev/Bot/internal/notify"
	"github.com/proxyhifi-dev/Bot/internal/risk"
	"github.com/proxyhifi-dev/Bot/internal/signal"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var ErrAlreadyRunning = errors.New("engine already running")

// Evaluation statuses
const (
	StatusNoData          = "no_data"
	StatusNotEvaluated    = "not_evaluated"
	StatusExited          = "exited"
	StatusHolding         = "holding"
	StatusPending         = "pending_approval"
	StatusBlocked         = "blocked"
	StatusNoSignal        = "no_signal"
	StatusInvalidSize     = "invalid_size"
	StatusSignalGenerated = "signal_generated"
	StatusBusy            = "busy"
	StatusError           = "error"
)

// Approval statuses
const (
	ApprovalExecuted  = "executed"
	ApprovalNoPending = "no_pending"
	ApprovalExpired   = "expired"
	ApprovalFailed    = "failed"
	ApprovalRejected  = "rejected"
)

const (
	ReasonForcedSquareOff = "forced square-off"
	ReasonStopHit         = "stop hit"
	ReasonTargetHit       = "target hit"
	ReasonTimedOut        = "timed out"
)

// MarketData supplies candles and the last traded price
type MarketData interface {
	LatestCandles(ctx context.Context, symbol string, lookback int) ([]types.Candle, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Journal persists the signal lifecycle and mode changes
type Journal interface {
	SaveSignal(signal types.PendingSignal) error
	ResolveSignal(correlationID, outcome, detail string) error
	SaveModeChange(from, to types.Mode, accepted bool, reason string) error
	TradesSince(since time.Time) ([]types.Trade, error)
}

// TokenValidator is consulted before a switch to LIVE
type TokenValidator interface {
	ValidateToken(ctx context.Context, force bool) bool
}

type Config struct {
	Symbol         string
	Lookback       int
	PollInterval   time.Duration
	SignalTTL      time.Duration
	ExpiryInterval time.Duration
	StopTimeout    time.Duration
	// ApprovalTimeout bounds the price fetch and order placement of an
	// approval, the longest a mode switch can queue behind one
	ApprovalTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Lookback <= 0 {
		c.Lookback = 150
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.SignalTTL <= 0 {
		c.SignalTTL = 45 * time.Second
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 20 * time.Second
	}
}

// Deps are the collaborators the engine drives. Journal, Notifier and Auth are optional.
type Deps struct {
	Market   MarketData
	Signals  signal.Source
	Risk     *risk.Gate
	Mode     *mode.Controller
	Ledger   *ledger.Ledger
	Executor *execution.Executor
	Journal  Journal
	Notifier notify.Notifier
	Auth     TokenValidator
}

// Evaluation is the outcome of one market evaluation cycle
type Evaluation struct {
	Status string               `json:"status"`
	Reason string               `json:"reason,omitempty"`
	LTP    float64              `json:"ltp,omitempty"`
	Signal *types.PendingSignal `json:"signal,omitempty"`
	Exit   *execution.Result    `json:"exit,omitempty"`
	At     time.Time            `json:"at"`
}

// ApprovalResult is returned by Approve and Reject
type ApprovalResult struct {
	Status        string            `json:"status"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Execution     *execution.Result `json:"execution,omitempty"`
}

// Engine runs the evaluation loop and owns the single pending signal.
//
// mu guards the pending slot, the last evaluation and the loop handles. It
// is never held across a network call. trading serializes everything that
// can change the position (cycle exits and entries, approvals, mode
// switches); the poll loop only try-acquires it.
type Engine struct {
	cfg      Config
	market   MarketData
	signals  signal.Source
	risk     *risk.Gate
	mode     *mode.Controller
	ledger   *ledger.Ledger
	executor *execution.Executor
	journal  Journal
	notifier notify.Notifier
	auth     TokenValidator
	logger   zerolog.Logger
	now      func() time.Time

	trading *semaphore.Weighted

	mu      sync.Mutex
	pending *types.PendingSignal
	last    *Evaluation

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	cfg.applyDefaults()
	if deps.Signals == nil {
		deps.Signals = signal.None{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	modeGauge.Set(modeValue(deps.Mode.Current()))
	return &Engine{
		cfg:      cfg,
		market:   deps.Market,
		signals:  deps.Signals,
		risk:     deps.Risk,
		mode:     deps.Mode,
		ledger:   deps.Ledger,
		executor: deps.Executor,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		auth:     deps.Auth,
		logger:   logger.With().Str("component", "engine").Str("symbol", cfg.Symbol).Logger(),
		now:      time.Now,
		trading:  semaphore.NewWeighted(1),
	}
}

// EvaluateMarket runs one cycle: square-off, then stop/target, then the
// risk gate and the signal source. Steps are strictly ordered so a cycle
// that exits never proposes a new trade.
func (e *Engine) EvaluateMarket(ctx context.Context) Evaluation {
	ev := e.evaluate(ctx)
	ev.At = e.now()
	evaluationsTotal.WithLabelValues(ev.Status).Inc()

	e.mu.Lock()
	e.last = &ev
	e.mu.Unlock()
	return ev
}

func (e *Engine) evaluate(ctx context.Context) Evaluation {
	candles, err := e.market.LatestCandles(ctx, e.cfg.Symbol, e.cfg.Lookback)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to fetch candles")
		return Evaluation{Status: StatusError, Reason: err.Error()}
	}
	if len(candles) == 0 {
		return Evaluation{Status: StatusNoData, Reason: "no candles returned"}
	}
	ltp := candles[len(candles)-1].Close

	if !e.trading.TryAcquire(1) {
		return Evaluation{Status: StatusBusy, Reason: "position change in progress", LTP: ltp}
	}
	defer e.trading.Release(1)

	now := e.now()
	if position, open := e.ledger.OpenPosition(); open {
		if e.risk.ShouldForceSquareOff(now) {
			return e.exit(ctx, ltp, ReasonForcedSquareOff)
		}
		if reason, hit := exitTriggered(position, ltp); hit {
			return e.exit(ctx, ltp, reason)
		}
		return Evaluation{
			Status: StatusHolding,
			Reason: fmt.Sprintf("unrealized %.2f", ledger.PnL(position.Side, position.EntryPrice, ltp, position.Quantity).InexactFloat64()),
			LTP:    ltp,
		}
	}

	if pending := e.Pending(); pending != nil {
		return Evaluation{Status: StatusPending, Reason: "awaiting approval", LTP: ltp, Signal: pending}
	}

	if decision := e.risk.CanOpenNewTrade(now); decision.Blocked {
		return Evaluation{Status: StatusBlocked, Reason: decision.Reason, LTP: ltp}
	}

	side, ok, err := e.signals.Decide(ctx, candles)
	if err != nil {
		e.logger.Error().Err(err).Msg("signal source failed")
		return Evaluation{Status: StatusError, Reason: err.Error(), LTP: ltp}
	}
	if !ok {
		return Evaluation{Status: StatusNoSignal, LTP: ltp}
	}

	stop, target := e.risk.ExitLevels(side, ltp)
	qty := e.risk.PositionSize(ltp, stop)
	if qty <= 0 {
		e.logger.Warn().Str("side", string(side)).Float64("price", ltp).Float64("stop", stop).Msg("invalid position size, no signal created")
		return Evaluation{Status: StatusInvalidSize, Reason: fmt.Sprintf("position size %d", qty), LTP: ltp}
	}

	proposal := types.PendingSignal{
		Symbol:        e.cfg.Symbol,
		Side:          side,
		Quantity:      qty,
		StopLoss:      stop,
		Target:        target,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.cfg.SignalTTL),
	}

	e.mu.Lock()
	if e.pending != nil {
		existing := *e.pending
		e.mu.Unlock()
		return Evaluation{Status: StatusPending, Reason: "awaiting approval", LTP: ltp, Signal: &existing}
	}
	e.pending = &proposal
	e.mu.Unlock()

	pendingGauge.Set(1)
	signalsTotal.WithLabelValues(journal.OutcomePending).Inc()
	e.logger.Info().
		Str("correlation_id", proposal.CorrelationID).
		Str("side", string(side)).
		Int("qty", qty).
		Float64("price", ltp).
		Float64("stop", stop).
		Float64("target", target).
		Time("expires_at", proposal.ExpiresAt).
		Msg("signal generated, awaiting approval")

	if e.journal != nil {
		if err := e.journal.SaveSignal(proposal); err != nil {
			e.logger.Error().Err(err).Str("correlation_id", proposal.CorrelationID).Msg("failed to journal signal")
		}
	}
	e.notify(fmt.Sprintf("Signal %s %s qty %d @ %.2f (SL %.2f, TGT %.2f). Approve within %s.",
		side, e.cfg.Symbol, qty, ltp, stop, target, e.cfg.SignalTTL))

	return Evaluation{Status: StatusSignalGenerated, LTP: ltp, Signal: &proposal}
}

// exitTriggered checks stop and target with side-aware comparisons. The
// stop wins when both would fire.
func exitTriggered(p types.Position, ltp float64) (string, bool) {
	if p.Side == types.SideBuy {
		switch {
		case ltp <= p.StopLoss:
			return ReasonStopHit, true
		case ltp >= p.Target:
			return ReasonTargetHit, true
		}
		return "", false
	}
	switch {
	case ltp >= p.StopLoss:
		return ReasonStopHit, true
	case ltp <= p.Target:
		return ReasonTargetHit, true
	}
	return "", false
}

// exit closes the position and registers the realized trade. The caller
// holds the trading semaphore.
func (e *Engine) exit(ctx context.Context, ltp float64, reason string) Evaluation {
	result, err := e.executor.ExitTrade(ctx, ltp, reason)
	if err != nil {
		return Evaluation{Status: StatusError, Reason: err.Error(), LTP: ltp}
	}
	if result.Status == execution.StatusClosed {
		e.risk.RegisterTrade(result.PnL)
		realizedGauge.Set(e.ledger.Stats().RealizedPnL)
		e.notify(fmt.Sprintf("Exit %s @ %.2f: %s, pnl %.2f", e.cfg.Symbol, ltp, reason, result.PnL))
	}
	return Evaluation{Status: StatusExited, Reason: reason, LTP: ltp, Exit: result}
}

// Approve executes the pending signal at a freshly fetched price. Expiry is
// re-checked under the same lock the expiry loop uses, so a late approval
// and a timeout cannot both win.
func (e *Engine) Approve(ctx context.Context) (*ApprovalResult, error) {
	if err := e.trading.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.trading.Release(1)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ApprovalTimeout)
	defer cancel()

	now := e.now()
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return &ApprovalResult{Status: ApprovalNoPending, Reason: "no pending signal"}, nil
	}
	claimed := *e.pending
	e.pending = nil
	e.mu.Unlock()
	pendingGauge.Set(0)

	logger := e.logger.With().Str("correlation_id", claimed.CorrelationID).Logger()
	if claimed.Expired(now) {
		logger.Info().Time("expires_at", claimed.ExpiresAt).Msg("approval arrived after expiry")
		e.resolve(claimed.CorrelationID, journal.OutcomeExpired, "approved after expiry")
		return &ApprovalResult{Status: ApprovalExpired, CorrelationID: claimed.CorrelationID, Reason: "signal expired"}, nil
	}

	ltp, err := e.market.LatestPrice(ctx, claimed.Symbol)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch price for approval")
		e.resolve(claimed.CorrelationID, journal.OutcomeFailed, err.Error())
		return &ApprovalResult{Status: ApprovalFailed, CorrelationID: claimed.CorrelationID, Reason: err.Error()}, nil
	}

	result, err := e.executor.EnterTrade(ctx, claimed, ltp)
	if err != nil {
		logger.Error().Err(err).Float64("price", ltp).Msg("approved signal failed to execute")
		e.resolve(claimed.CorrelationID, journal.OutcomeFailed, err.Error())
		return &ApprovalResult{Status: ApprovalFailed, CorrelationID: claimed.CorrelationID, Reason: err.Error()}, nil
	}

	e.resolve(claimed.CorrelationID, journal.OutcomeExecuted, fmt.Sprintf("entered @ %.2f", ltp))
	logger.Info().Str("mode", string(result.Mode)).Float64("price", ltp).Msg("signal approved and executed")
	e.notify(fmt.Sprintf("Executed %s %s qty %d @ %.2f [%s]", claimed.Side, claimed.Symbol, claimed.Quantity, ltp, result.Mode))

	return &ApprovalResult{Status: ApprovalExecuted, CorrelationID: claimed.CorrelationID, Execution: result}, nil
}

// Reject drops the pending signal if there is one
func (e *Engine) Reject() *ApprovalResult {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return &ApprovalResult{Status: ApprovalNoPending, Reason: "no pending signal"}
	}
	id := e.pending.CorrelationID
	e.pending = nil
	e.mu.Unlock()
	pendingGauge.Set(0)

	e.logger.Info().Str("correlation_id", id).Msg("signal rejected by operator")
	e.resolve(id, journal.OutcomeRejected, "rejected by operator")
	return &ApprovalResult{Status: ApprovalRejected, CorrelationID: id}
}

// expireStale clears the pending signal once its window has passed
func (e *Engine) expireStale() {
	now := e.now()
	e.mu.Lock()
	if e.pending == nil || !e.pending.Expired(now) {
		e.mu.Unlock()
		return
	}
	expired := *e.pending
	e.pending = nil
	e.mu.Unlock()
	pendingGauge.Set(0)

	e.logger.Info().Str("correlation_id", expired.CorrelationID).Time("expires_at", expired.ExpiresAt).Msg("pending signal timed out")
	e.resolve(expired.CorrelationID, journal.OutcomeExpired, ReasonTimedOut)
}

// Pending returns a copy of the pending signal, or nil
func (e *Engine) Pending() *types.PendingSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	return &p
}

// SwitchMode changes the trading mode. It waits for in-flight position
// changes so the open-position check cannot go stale.
func (e *Engine) SwitchMode(ctx context.Context, raw string, confirmLive bool) (mode.Transition, error) {
	target, err := types.ParseMode(raw)
	if err != nil {
		t := mode.Transition{From: e.mode.Current(), To: types.Mode(raw), Reason: mode.ReasonUnknownMode, At: e.now()}
		e.recordModeChange(t)
		return t, nil
	}

	if err := e.trading.Acquire(ctx, 1); err != nil {
		return mode.Transition{}, err
	}
	defer e.trading.Release(1)

	var validator func() bool
	if e.auth != nil {
		validator = func() bool { return e.auth.ValidateToken(ctx, true) }
	}

	t := e.mode.Switch(target, e.ledger.HasOpenPosition(), confirmLive, validator)
	e.recordModeChange(t)
	if t.Accepted && t.Reason == mode.ReasonSwitched {
		modeGauge.Set(modeValue(t.To))
		if t.To == types.ModeLive {
			e.notify("LIVE MODE ACTIVATED. Real capital at risk.")
		}
	}
	return t, nil
}

func (e *Engine) recordModeChange(t mode.Transition) {
	if e.journal == nil || t.Reason == mode.ReasonNoOp {
		return
	}
	if err := e.journal.SaveModeChange(t.From, t.To, t.Accepted, t.Reason); err != nil {
		e.logger.Error().Err(err).Msg("failed to journal mode change")
	}
}

// Restore reloads today's closed trades into the ledger and the risk counters
func (e *Engine) Restore() error {
	if e.journal == nil {
		return nil
	}
	trades, err := e.journal.TradesSince(e.risk.StartOfDay(e.now()))
	if err != nil {
		return fmt.Errorf("failed to load today's trades: %w", err)
	}
	if err := e.ledger.Restore(trades); err != nil {
		return err
	}

	pnls := make([]float64, 0, len(trades))
	for _, t := range trades {
		pnls = append(pnls, t.PnL)
	}
	e.risk.Restore(pnls)
	realizedGauge.Set(e.ledger.Stats().RealizedPnL)
	e.logger.Info().Int("trades", len(trades)).Msg("restored today's trades from journal")
	return nil
}

func (e *Engine) resolve(correlationID, outcome, detail string) {
	signalsTotal.WithLabelValues(outcome).Inc()
	if e.journal == nil {
		return
	}
	if err := e.journal.ResolveSignal(correlationID, outcome, detail); err != nil {
		e.logger.Error().Err(err).Str("correlation_id", correlationID).Str("outcome", outcome).Msg("failed to journal signal outcome")
	}
}

// notify sends in the background so a slow notifier never stalls trading
func (e *Engine) notify(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.notifier.Notify(ctx, text); err != nil {
			e.logger.Warn().Err(err).Msg("notification failed")
		}
	}()
}

func modeValue(m types.Mode) float64 {
	if m == types.ModeLive {
		return 1
	}
	return 0
}
