package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/proxyhifi-dev/Bot/internal/journal"
	"github.com/proxyhifi-dev/Bot/internal/ledger"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResponse, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.OrderResponse), args.Error(1)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) SaveOrder(record *journal.OrderRecord) error {
	return m.Called(record).Error(0)
}

func (m *MockJournal) SaveTrade(trade types.Trade) error {
	return m.Called(trade).Error(0)
}

type fixedMode types.Mode

func (f fixedMode) Current() types.Mode { return types.Mode(f) }

func signal() types.PendingSignal {
	now := time.Now()
	return types.PendingSignal{
		Symbol:        "NSE:NIFTY50-INDEX",
		Side:          types.SideBuy,
		Quantity:      20,
		StopLoss:      21950,
		Target:        22100,
		CorrelationID: "corr-1",
		CreatedAt:     now,
		ExpiresAt:     now.Add(45 * time.Second),
	}
}

func TestEnterTradePaperSkipsBroker(t *testing.T) {
	broker := new(MockBroker)
	l := ledger.New()
	e := New(fixedMode(types.ModePaper), l, broker, nil, zerolog.Nop())

	res, err := e.EnterTrade(context.Background(), signal(), 22010)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, 22010.0, res.Position.EntryPrice)
	assert.Equal(t, "corr-1", res.Position.CorrelationID)
	assert.Equal(t, types.ModePaper, res.Position.Mode)
	broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestEnterTradeLivePlacesOrderFirst(t *testing.T) {
	ctx := context.Background()
	broker := new(MockBroker)
	j := new(MockJournal)
	broker.On("PlaceOrder", ctx, types.OrderRequest{
		Symbol:      "NSE:NIFTY50-INDEX",
		Side:        types.SideBuy,
		Quantity:    20,
		OrderType:   types.OrderTypeMarket,
		ProductType: types.ProductIntraday,
	}).Return(&types.OrderResponse{OrderID: "ORD-1", Status: "ok"}, nil).Once()
	j.On("SaveOrder", mock.MatchedBy(func(r *journal.OrderRecord) bool {
		return r.BrokerOrderID == "ORD-1" && r.Purpose == journal.PurposeEntry && r.Status == journal.OrderPlaced
	})).Return(nil).Once()

	l := ledger.New()
	e := New(fixedMode(types.ModeLive), l, broker, j, zerolog.Nop())

	res, err := e.EnterTrade(ctx, signal(), 22010)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", res.Order.OrderID)
	assert.Equal(t, 22010.0, res.Position.EntryPrice, "booked at decision-time price")
	assert.True(t, l.HasOpenPosition())
	broker.AssertExpectations(t)
	j.AssertExpectations(t)
}

func TestEnterTradeLiveOrderFailureOpensNothing(t *testing.T) {
	ctx := context.Background()
	broker := new(MockBroker)
	j := new(MockJournal)
	broker.On("PlaceOrder", ctx, mock.Anything).Return(nil, errors.New("request failed")).Once()
	j.On("SaveOrder", mock.MatchedBy(func(r *journal.OrderRecord) bool {
		return r.Status == journal.OrderFailed
	})).Return(nil).Once()

	l := ledger.New()
	e := New(fixedMode(types.ModeLive), l, broker, j, zerolog.Nop())

	_, err := e.EnterTrade(ctx, signal(), 22010)
	assert.Error(t, err)
	assert.False(t, l.HasOpenPosition())
	j.AssertExpectations(t)
}

func TestEnterTradeRefusesWhenPositionOpen(t *testing.T) {
	broker := new(MockBroker)
	l := ledger.New()
	e := New(fixedMode(types.ModeLive), l, broker, nil, zerolog.Nop())
	_, err := l.OpenTrade(types.Position{Symbol: "X", Side: types.SideSell, Quantity: 1, EntryPrice: 1})
	require.NoError(t, err)

	_, err = e.EnterTrade(context.Background(), signal(), 22010)
	assert.ErrorIs(t, err, ledger.ErrPositionExists)
	broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestExitTradeWhenFlat(t *testing.T) {
	e := New(fixedMode(types.ModeLive), ledger.New(), new(MockBroker), nil, zerolog.Nop())
	res, err := e.ExitTrade(context.Background(), 22000, "stop hit")
	require.NoError(t, err)
	assert.Equal(t, StatusNoOpenPosition, res.Status)
	assert.Zero(t, res.PnL)
}

func TestExitTradeLiveSubmitsOffsettingOrder(t *testing.T) {
	ctx := context.Background()
	broker := new(MockBroker)
	j := new(MockJournal)
	l := ledger.New()
	e := New(fixedMode(types.ModeLive), l, broker, j, zerolog.Nop())

	_, err := l.OpenTrade(types.Position{
		Symbol: "NSE:NIFTY50-INDEX", Side: types.SideSell, Quantity: 10, EntryPrice: 22000,
		Mode: types.ModeLive, CorrelationID: "corr-9",
	})
	require.NoError(t, err)

	broker.On("PlaceOrder", ctx, mock.MatchedBy(func(o types.OrderRequest) bool {
		return o.Side == types.SideBuy && o.Quantity == 10 && o.OrderType == types.OrderTypeMarket
	})).Return(&types.OrderResponse{OrderID: "ORD-2"}, nil).Once()
	j.On("SaveOrder", mock.Anything).Return(nil).Once()
	j.On("SaveTrade", mock.MatchedBy(func(tr types.Trade) bool {
		return tr.CorrelationID == "corr-9" && tr.PnL == 500
	})).Return(nil).Once()

	res, err := e.ExitTrade(ctx, 21950, "target hit")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, res.Status)
	assert.Equal(t, 500.0, res.PnL)
	assert.Equal(t, "target hit", res.Reason)
	assert.False(t, l.HasOpenPosition())
	broker.AssertExpectations(t)
	j.AssertExpectations(t)
}

func TestExitTradeLiveOrderFailureKeepsPosition(t *testing.T) {
	ctx := context.Background()
	broker := new(MockBroker)
	l := ledger.New()
	e := New(fixedMode(types.ModeLive), l, broker, nil, zerolog.Nop())

	_, err := l.OpenTrade(types.Position{Symbol: "X", Side: types.SideBuy, Quantity: 10, EntryPrice: 100, Mode: types.ModeLive})
	require.NoError(t, err)
	broker.On("PlaceOrder", ctx, mock.Anything).Return(nil, errors.New("breaker open")).Once()

	_, err = e.ExitTrade(ctx, 90, "stop hit")
	assert.Error(t, err)
	assert.True(t, l.HasOpenPosition())
}

func TestExitTradePaperPositionNeverHitsBroker(t *testing.T) {
	broker := new(MockBroker)
	l := ledger.New()
	e := New(fixedMode(types.ModeLive), l, broker, nil, zerolog.Nop())

	_, err := l.OpenTrade(types.Position{Symbol: "X", Side: types.SideBuy, Quantity: 10, EntryPrice: 100, Mode: types.ModePaper})
	require.NoError(t, err)

	res, err := e.ExitTrade(context.Background(), 110, "forced square-off")
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.PnL)
	broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}
