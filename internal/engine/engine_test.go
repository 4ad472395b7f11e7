package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/execution"
	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/mode"
	"github.com/proxyhifi-dev/Bot/internal/risk"
	"github.com/proxyhifi-dev/Bot/internal/signal"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSymbol = "NSE:NIFTY50-INDEX"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeMarket struct {
	mu     sync.Mutex
	close  float64
	price  float64
	err    error
	noData bool
	// hang makes LatestPrice wait for its context
	hang    bool
	fetches int
}

func (m *fakeMarket) LatestCandles(context.Context, string, int) ([]types.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	if m.noData {
		return nil, nil
	}
	return []types.Candle{
		{Timestamp: 1, Close: m.close - 10},
		{Timestamp: 2, Close: m.close},
	}, nil
}

func (m *fakeMarket) LatestPrice(ctx context.Context, _ string) (float64, error) {
	m.mu.Lock()
	hang := m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, m.err
}

func (m *fakeMarket) set(close, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.close = close
	m.price = price
}

type recordingJournal struct {
	mu       sync.Mutex
	signals  []types.PendingSignal
	outcomes map[string][]string
	modes    []mode.Transition
	restore  []types.Trade
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{outcomes: make(map[string][]string)}
}

func (j *recordingJournal) SaveSignal(s types.PendingSignal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.signals = append(j.signals, s)
	return nil
}

func (j *recordingJournal) ResolveSignal(id, outcome, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[id] = append(j.outcomes[id], outcome)
	return nil
}

func (j *recordingJournal) SaveModeChange(from, to types.Mode, accepted bool, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.modes = append(j.modes, mode.Transition{From: from, To: to, Accepted: accepted, Reason: reason})
	return nil
}

func (j *recordingJournal) TradesSince(since time.Time) ([]types.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []types.Trade
	for _, t := range j.restore {
		if !t.ExitTime.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (j *recordingJournal) outcomesFor(id string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.outcomes[id]...)
}

type stubAuth bool

func (s stubAuth) ValidateToken(context.Context, bool) bool { return bool(s) }

type fixture struct {
	engine  *Engine
	market  *fakeMarket
	clock   *testClock
	ledger  *ledger.Ledger
	risk    *risk.Gate
	mode    *mode.Controller
	journal *recordingJournal
	calls   *atomic.Int32
	side    *atomic.Value
}

type fixtureOption func(*risk.Config, *Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	clock := &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	logger := zerolog.Nop()

	riskCfg := risk.Config{
		Capital:          100000,
		RiskFraction:     0.01,
		MaxTradesPerDay:  3,
		MaxLossesPerDay:  2,
		NoNewTradesAfter: "14:45",
		SquareOffAt:      "15:15",
		Location:         time.UTC,
		Exits:            risk.FixedOffsets{Stop: 50, Target: 100},
	}

	market := &fakeMarket{close: 22000, price: 22000}
	calls := &atomic.Int32{}
	side := &atomic.Value{}
	side.Store(types.SideBuy)

	book := ledger.New()
	book.SetClock(clock.Now)
	modes := mode.NewController(types.ModePaper, logger)
	j := newRecordingJournal()

	deps := Deps{
		Market: market,
		Signals: signal.Func(func(context.Context, []types.Candle) (types.Side, bool, error) {
			calls.Add(1)
			s := side.Load().(types.Side)
			return s, s != "", nil
		}),
		Mode:     modes,
		Ledger:   book,
		Executor: execution.New(modes, book, nil, nil, logger),
		Journal:  j,
	}
	for _, opt := range opts {
		opt(&riskCfg, &deps)
	}

	gate, err := risk.New(riskCfg, logger)
	require.NoError(t, err)
	gate.SetClock(clock.Now)
	deps.Risk = gate

	e := New(Config{Symbol: testSymbol, Lookback: 10, SignalTTL: 45 * time.Second, StopTimeout: time.Second}, deps, logger)
	e.now = clock.Now

	return &fixture{engine: e, market: market, clock: clock, ledger: book, risk: gate, mode: modes, journal: j, calls: calls, side: side}
}

func (f *fixture) openPosition(t *testing.T, side types.Side, entry float64) {
	t.Helper()
	stop, target := f.risk.ExitLevels(side, entry)
	_, err := f.ledger.OpenTrade(types.Position{
		Symbol: testSymbol, Side: side, Quantity: 20, EntryPrice: entry,
		StopLoss: stop, Target: target, Mode: types.ModePaper, CorrelationID: "open-1",
	})
	require.NoError(t, err)
}

func TestEvaluateGeneratesSignal(t *testing.T) {
	f := newFixture(t)

	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)
	require.NotNil(t, ev.Signal)

	assert.Equal(t, 22000.0, ev.LTP, "ltp is the last close")
	assert.Equal(t, types.SideBuy, ev.Signal.Side)
	assert.Equal(t, 20, ev.Signal.Quantity)
	assert.Equal(t, 21950.0, ev.Signal.StopLoss)
	assert.Equal(t, 22100.0, ev.Signal.Target)
	assert.NotEmpty(t, ev.Signal.CorrelationID)
	assert.Equal(t, f.clock.Now().Add(45*time.Second), ev.Signal.ExpiresAt)

	pending := f.engine.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, ev.Signal.CorrelationID, pending.CorrelationID)
	assert.Len(t, f.journal.signals, 1)
}

func TestEvaluateOnlyOnePendingSignal(t *testing.T) {
	f := newFixture(t)

	first := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, first.Status)

	second := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusPending, second.Status)
	assert.Equal(t, first.Signal.CorrelationID, second.Signal.CorrelationID)
	assert.EqualValues(t, 1, f.calls.Load(), "signal source is not asked while a signal is pending")
}

func TestEvaluateNoData(t *testing.T) {
	f := newFixture(t)
	f.market.noData = true

	ev := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusNoData, ev.Status)
	assert.Nil(t, f.engine.Pending())
}

func TestEvaluateMarketDataError(t *testing.T) {
	f := newFixture(t)
	f.market.err = errors.New("breaker open")

	ev := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusError, ev.Status)
	assert.Contains(t, ev.Reason, "breaker open")
	assert.Equal(t, ev.Status, f.engine.LatestEvaluation().Status)
}

func TestEvaluateNoSignal(t *testing.T) {
	f := newFixture(t)
	f.side.Store(types.Side(""))

	ev := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusNoSignal, ev.Status)
	assert.Nil(t, f.engine.Pending())
}

func TestEvaluateRiskBlocked(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 2, 14, 50, 0, 0, time.UTC))

	ev := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusBlocked, ev.Status)
	assert.Equal(t, "no new trades after 14:45", ev.Reason)
	assert.Zero(t, f.calls.Load())
}

func TestEvaluateInvalidSizeCreatesNoSignal(t *testing.T) {
	f := newFixture(t, func(cfg *risk.Config, _ *Deps) {
		cfg.Exits = risk.FixedOffsets{Stop: 0, Target: 100}
	})

	ev := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusInvalidSize, ev.Status)
	assert.Nil(t, f.engine.Pending())
	assert.Empty(t, f.journal.signals)
}

func TestForcedSquareOffRunsBeforeSignalLogic(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, types.SideBuy, 22000)
	f.clock.Set(time.Date(2026, 3, 2, 15, 20, 0, 0, time.UTC))
	f.market.set(22030, 22030)

	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusExited, ev.Status)
	assert.Equal(t, ReasonForcedSquareOff, ev.Reason)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, 600.0, ev.Exit.PnL)

	assert.False(t, f.ledger.HasOpenPosition())
	assert.Nil(t, f.engine.Pending(), "no new signal in the tick that exited")
	assert.Zero(t, f.calls.Load(), "signal source never consulted")
	assert.Equal(t, 1, f.risk.Snapshot().TradesToday)
}

func TestEvaluateStopAndTarget(t *testing.T) {
	tests := []struct {
		name       string
		side       types.Side
		ltp        float64
		wantStatus string
		wantReason string
		wantPnL    float64
		wantLosses int
	}{
		{name: "buy stop", side: types.SideBuy, ltp: 21940, wantStatus: StatusExited, wantReason: ReasonStopHit, wantPnL: -1200, wantLosses: 1},
		{name: "buy target", side: types.SideBuy, ltp: 22100, wantStatus: StatusExited, wantReason: ReasonTargetHit, wantPnL: 2000},
		{name: "buy holding", side: types.SideBuy, ltp: 22050, wantStatus: StatusHolding},
		{name: "sell stop", side: types.SideSell, ltp: 22050, wantStatus: StatusExited, wantReason: ReasonStopHit, wantPnL: -1000, wantLosses: 1},
		{name: "sell target", side: types.SideSell, ltp: 21900, wantStatus: StatusExited, wantReason: ReasonTargetHit, wantPnL: 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.openPosition(t, tt.side, 22000)
			f.market.set(tt.ltp, tt.ltp)

			ev := f.engine.EvaluateMarket(context.Background())
			assert.Equal(t, tt.wantStatus, ev.Status)
			assert.Zero(t, f.calls.Load())
			if tt.wantStatus != StatusExited {
				assert.True(t, f.ledger.HasOpenPosition())
				return
			}
			assert.Equal(t, tt.wantReason, ev.Reason)
			assert.Equal(t, tt.wantPnL, ev.Exit.PnL)
			state := f.risk.Snapshot()
			assert.Equal(t, 1, state.TradesToday)
			assert.Equal(t, tt.wantLosses, state.LossesToday)
		})
	}
}

func TestExitTriggeredStopWinsTie(t *testing.T) {
	buy := types.Position{Side: types.SideBuy, StopLoss: 100, Target: 100}
	reason, hit := exitTriggered(buy, 100)
	assert.True(t, hit)
	assert.Equal(t, ReasonStopHit, reason)

	sell := types.Position{Side: types.SideSell, StopLoss: 100, Target: 100}
	reason, hit = exitTriggered(sell, 100)
	assert.True(t, hit)
	assert.Equal(t, ReasonStopHit, reason)
}

func TestApproveExecutesAtFreshPrice(t *testing.T) {
	f := newFixture(t)
	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)

	f.market.set(22000, 22012.5)
	f.clock.Advance(10 * time.Second)

	result, err := f.engine.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ApprovalExecuted, result.Status)
	assert.Equal(t, ev.Signal.CorrelationID, result.CorrelationID)
	require.NotNil(t, result.Execution)
	assert.Equal(t, types.ModePaper, result.Execution.Mode)

	position, open := f.ledger.OpenPosition()
	require.True(t, open)
	assert.Equal(t, 22012.5, position.EntryPrice)
	assert.Equal(t, ev.Signal.CorrelationID, position.CorrelationID)
	assert.Nil(t, f.engine.Pending())
	assert.Equal(t, []string{journal.OutcomeExecuted}, f.journal.outcomesFor(ev.Signal.CorrelationID))
}

func TestApproveAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)

	f.clock.Advance(45 * time.Second)

	result, err := f.engine.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ApprovalExpired, result.Status)
	assert.False(t, f.ledger.HasOpenPosition())
	assert.Nil(t, f.engine.Pending())
	assert.Equal(t, []string{journal.OutcomeExpired}, f.journal.outcomesFor(ev.Signal.CorrelationID))
}

func TestApproveWithoutPending(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ApprovalNoPending, result.Status)
	assert.False(t, f.ledger.HasOpenPosition())
}

func TestApproveIsBoundedByApprovalTimeout(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.ApprovalTimeout = 50 * time.Millisecond

	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)

	f.market.mu.Lock()
	f.market.hang = true
	f.market.mu.Unlock()

	start := time.Now()
	result, err := f.engine.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ApprovalFailed, result.Status)
	assert.Less(t, time.Since(start), 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	transition, err := f.engine.SwitchMode(ctx, "PAPER", false)
	require.NoError(t, err, "the trading lock is free once the approval gives up")
	assert.True(t, transition.Accepted)
}

func TestApprovePriceFailureTerminatesSignal(t *testing.T) {
	f := newFixture(t)
	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)

	f.market.err = errors.New("request failed")
	result, err := f.engine.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ApprovalFailed, result.Status)
	assert.Contains(t, result.Reason, "request failed")
	assert.False(t, f.ledger.HasOpenPosition())
	assert.Nil(t, f.engine.Pending())
	assert.Equal(t, []string{journal.OutcomeFailed}, f.journal.outcomesFor(ev.Signal.CorrelationID))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)

	f.clock.Advance(44 * time.Second)
	f.engine.expireStale()
	assert.NotNil(t, f.engine.Pending(), "still inside the window")

	f.clock.Advance(time.Second)
	f.engine.expireStale()
	assert.Nil(t, f.engine.Pending())
	assert.Equal(t, []string{journal.OutcomeExpired}, f.journal.outcomesFor(ev.Signal.CorrelationID))
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, ApprovalNoPending, f.engine.Reject().Status)

	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusSignalGenerated, ev.Status)

	result := f.engine.Reject()
	assert.Equal(t, ApprovalRejected, result.Status)
	assert.Equal(t, ev.Signal.CorrelationID, result.CorrelationID)
	assert.Nil(t, f.engine.Pending())

	approval, err := f.engine.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ApprovalNoPending, approval.Status)
}

// Approvals, rejections, expiry and evaluation race against each other.
// Every signal must end in exactly one outcome and every executed approval
// must be the only open position.
func TestConcurrentApproveRejectExpire(t *testing.T) {
	f := newFixture(t, func(cfg *risk.Config, _ *Deps) {
		cfg.MaxTradesPerDay = 1_000_000
		cfg.MaxLossesPerDay = 1_000_000
	})
	ctx := context.Background()

	var executed atomic.Int32
	var wg sync.WaitGroup
	for round := 0; round < 50; round++ {
		// a racing evaluation may have proposed again after a reject
		f.engine.Reject()
		ev := f.engine.EvaluateMarket(ctx)
		if ev.Status != StatusSignalGenerated {
			// flatten so the next round can propose again
			f.ledger.CloseTrade(22000, "test reset")
			continue
		}
		f.clock.Advance(44*time.Second + 999*time.Millisecond)

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				switch i % 4 {
				case 0:
					if r, err := f.engine.Approve(ctx); err == nil && r.Status == ApprovalExecuted {
						executed.Add(1)
					}
				case 1:
					f.engine.Reject()
				case 2:
					f.clock.Advance(time.Millisecond)
					f.engine.expireStale()
				case 3:
					f.engine.EvaluateMarket(ctx)
				}
			}(i)
		}
		wg.Wait()

		outcomes := f.journal.outcomesFor(ev.Signal.CorrelationID)
		require.Len(t, outcomes, 1, "signal %s resolved %v", ev.Signal.CorrelationID, outcomes)
		if outcomes[0] == journal.OutcomeExecuted {
			position, open := f.ledger.OpenPosition()
			require.True(t, open)
			assert.Equal(t, ev.Signal.CorrelationID, position.CorrelationID)
		}
		f.ledger.CloseTrade(22000, "test reset")
	}

	assert.Equal(t, int(executed.Load()), countExecuted(f.journal))
}

func countExecuted(j *recordingJournal) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, outcomes := range j.outcomes {
		for _, o := range outcomes {
			if o == journal.OutcomeExecuted {
				n++
			}
		}
	}
	return n
}

func TestSwitchMode(t *testing.T) {
	t.Run("live needs confirmation", func(t *testing.T) {
		f := newFixture(t)
		tr, err := f.engine.SwitchMode(context.Background(), "LIVE", false)
		require.NoError(t, err)
		assert.False(t, tr.Accepted)
		assert.Equal(t, mode.ReasonNoConfirm, tr.Reason)
		assert.Equal(t, types.ModePaper, f.mode.Current())
	})

	t.Run("open position blocks any switch", func(t *testing.T) {
		f := newFixture(t)
		f.openPosition(t, types.SideBuy, 22000)
		tr, err := f.engine.SwitchMode(context.Background(), "live", true)
		require.NoError(t, err)
		assert.False(t, tr.Accepted)
		assert.Equal(t, mode.ReasonOpenPosition, tr.Reason)
	})

	t.Run("invalid broker auth blocks live", func(t *testing.T) {
		f := newFixture(t, func(_ *risk.Config, deps *Deps) { deps.Auth = stubAuth(false) })
		tr, err := f.engine.SwitchMode(context.Background(), "LIVE", true)
		require.NoError(t, err)
		assert.False(t, tr.Accepted)
		assert.Equal(t, mode.ReasonAuthInvalid, tr.Reason)
	})

	t.Run("confirmed with valid auth", func(t *testing.T) {
		f := newFixture(t, func(_ *risk.Config, deps *Deps) { deps.Auth = stubAuth(true) })
		tr, err := f.engine.SwitchMode(context.Background(), "LIVE", true)
		require.NoError(t, err)
		assert.True(t, tr.Accepted)
		assert.Equal(t, types.ModeLive, f.engine.Mode())
		require.Len(t, f.journal.modes, 1)
		assert.True(t, f.journal.modes[0].Accepted)
	})

	t.Run("unknown mode", func(t *testing.T) {
		f := newFixture(t)
		tr, err := f.engine.SwitchMode(context.Background(), "DEMO", true)
		require.NoError(t, err)
		assert.False(t, tr.Accepted)
		assert.Equal(t, mode.ReasonUnknownMode, tr.Reason)
	})
}

func TestStartAndEmergencyStop(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.PollInterval = 10 * time.Millisecond
	f.engine.cfg.ExpiryInterval = 10 * time.Millisecond

	require.NoError(t, f.engine.Start(context.Background()))
	assert.ErrorIs(t, f.engine.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, f.engine.Running())

	require.Eventually(t, func() bool { return f.engine.Pending() != nil }, time.Second, 5*time.Millisecond)
	f.openPosition(t, types.SideSell, 22000)

	result := f.engine.EmergencyStop()
	assert.True(t, result.WasRunning)
	assert.False(t, result.TimedOut)
	assert.False(t, f.engine.Running())

	assert.NotNil(t, f.engine.Pending(), "stop leaves the pending signal alone")
	assert.True(t, f.ledger.HasOpenPosition(), "stop does not flatten")

	assert.False(t, f.engine.EmergencyStop().WasRunning)
	require.NoError(t, f.engine.Start(context.Background()), "restart after stop")
	f.engine.EmergencyStop()
}

func TestLoopRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() {
		f.engine.safely(context.Background(), "poll", func(context.Context) { panic("boom") })
	})
}

func TestRestoreFromJournal(t *testing.T) {
	f := newFixture(t)
	today := f.clock.Now()
	f.journal.restore = []types.Trade{
		{Position: types.Position{Symbol: testSymbol, Side: types.SideBuy, Quantity: 20, EntryPrice: 22000}, ExitPrice: 21950, ExitTime: today.Add(-24 * time.Hour), PnL: -1000},
		{Position: types.Position{Symbol: testSymbol, Side: types.SideBuy, Quantity: 20, EntryPrice: 22000}, ExitPrice: 21950, ExitTime: today.Add(-time.Hour), PnL: -1000},
		{Position: types.Position{Symbol: testSymbol, Side: types.SideSell, Quantity: 20, EntryPrice: 22000}, ExitPrice: 22050, ExitTime: today.Add(-30 * time.Minute), PnL: -1000},
	}

	require.NoError(t, f.engine.Restore())
	state := f.risk.Snapshot()
	assert.Equal(t, 2, state.TradesToday)
	assert.Equal(t, 2, state.LossesToday)
	assert.Equal(t, 2, f.ledger.Stats().TotalTrades)

	ev := f.engine.EvaluateMarket(context.Background())
	assert.Equal(t, StatusBlocked, ev.Status, "restart cannot bypass the daily loss limit")
}

func TestPnLAndStatus(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, types.SideBuy, 22000)
	f.market.set(22100, 22100)
	ev := f.engine.EvaluateMarket(context.Background())
	require.Equal(t, StatusExited, ev.Status)

	f.openPosition(t, types.SideBuy, 22000)
	f.market.set(22020, 22020)
	require.Equal(t, StatusHolding, f.engine.EvaluateMarket(context.Background()).Status)

	pnl := f.engine.PnL()
	assert.Equal(t, 2000.0, pnl.TodayPnL)
	assert.Equal(t, 400.0, pnl.Unrealized)
	assert.Equal(t, 1.0, pnl.WinRate)

	status := f.engine.Status()
	assert.Equal(t, types.ModePaper, status.Mode)
	assert.NotNil(t, status.OpenPosition)
	assert.Equal(t, 1, status.Risk.TradesToday)
	assert.Equal(t, StatusHolding, status.LastEvaluation.Status)
}

func TestHealthChecksAuthOnlyInLive(t *testing.T) {
	f := newFixture(t, func(_ *risk.Config, deps *Deps) { deps.Auth = stubAuth(true) })

	h := f.engine.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Nil(t, h.BrokerAuth)

	_, err := f.engine.SwitchMode(context.Background(), "LIVE", true)
	require.NoError(t, err)
	h = f.engine.Health(context.Background())
	require.NotNil(t, h.BrokerAuth)
	assert.True(t, *h.BrokerAuth)
}
