package journal_test

import (
	"testing"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/database"
	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *journal.Database {
	t.Helper()
	db, err := database.NewDatabase(":memory:")
	require.NoError(t, err)
	return journal.NewDatabase(db)
}

func closedTrade(exit time.Time, pnl float64, correlationID string) types.Trade {
	return types.Trade{
		Position: types.Position{
			Symbol:     "NSE:NIFTY50-INDEX",
			Side:       types.SideBuy,
			Quantity:   10,
			EntryPrice: 22000,
			StopLoss:   21950,
			Target:     22100,
			Mode:       types.ModePaper,
			EntryTime:  exit.Add(-10 * time.Minute),

			CorrelationID: correlationID,
		},
		ExitPrice:  22000 + pnl/10,
		ExitTime:   exit,
		PnL:        pnl,
		ExitReason: "target hit",
	}
}

func TestTradesSince(t *testing.T) {
	j := newJournal(t)
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.SaveTrade(closedTrade(today.Add(-2*time.Hour), 100, "old")))
	require.NoError(t, j.SaveTrade(closedTrade(today.Add(11*time.Hour), -50, "b")))
	require.NoError(t, j.SaveTrade(closedTrade(today.Add(10*time.Hour), 200, "a")))

	trades, err := j.TradesSince(today)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 200.0, trades[0].PnL, "oldest first")
	assert.Equal(t, -50.0, trades[1].PnL)
	assert.Equal(t, types.SideBuy, trades[0].Side)
	assert.Equal(t, 10, trades[0].Quantity)
	assert.Equal(t, "a", trades[0].CorrelationID)
}

func TestSignalLifecycle(t *testing.T) {
	j := newJournal(t)
	now := time.Now()
	signal := types.PendingSignal{
		Symbol:        "NSE:NIFTY50-INDEX",
		Side:          types.SideSell,
		Quantity:      20,
		CorrelationID: "corr-1",
		CreatedAt:     now,
		ExpiresAt:     now.Add(45 * time.Second),
	}
	require.NoError(t, j.SaveSignal(signal))

	rec, err := j.GetSignal("corr-1")
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomePending, rec.Outcome)

	require.NoError(t, j.ResolveSignal("corr-1", journal.OutcomeExpired, "timed out"))
	rec, err = j.GetSignal("corr-1")
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomeExpired, rec.Outcome)
	assert.NotNil(t, rec.ResolvedAt)

	assert.ErrorIs(t, j.ResolveSignal("missing", journal.OutcomeRejected, ""), journal.ErrSignalNotFound)
}

func TestOrdersAndModeChanges(t *testing.T) {
	j := newJournal(t)

	rec := &journal.OrderRecord{Purpose: journal.PurposeEntry, Symbol: "X", Side: "BUY", Quantity: 1, Status: journal.OrderPlaced}
	require.NoError(t, j.SaveOrder(rec))
	assert.NotEmpty(t, rec.OrderID)

	orders, err := j.RecentOrders(10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	require.NoError(t, j.SaveModeChange(types.ModePaper, types.ModeLive, false, "LIVE switch requires confirm_live"))
	changes, err := j.ModeChanges(5)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Accepted)
	assert.Equal(t, "LIVE", changes[0].ToMode)
}
