package broker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/proxyhifi-dev/Bot/internal/types"
	"github.com/tidwall/gjson"
)

const (
	orderTypeLimit  = 1
	orderTypeMarket = 2
)

// PlaceOrder submits an order. An identical order already in flight is
// refused with ErrDuplicateOrder; the key is released once the call returns.
func (g *Gateway) PlaceOrder(ctx context.Context, order types.OrderRequest) (*types.OrderResponse, error) {
	if order.ProductType == "" {
		order.ProductType = types.ProductIntraday
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	key := order.DedupeKey()
	g.dedupeMu.Lock()
	if _, exists := g.inFlight[key]; exists {
		g.dedupeMu.Unlock()
		ordersTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, key)
	}
	g.inFlight[key] = struct{}{}
	g.dedupeMu.Unlock()

	defer func() {
		g.dedupeMu.Lock()
		delete(g.inFlight, key)
		g.dedupeMu.Unlock()
	}()

	payload := map[string]any{
		"symbol":       order.Symbol,
		"qty":          order.Quantity,
		"type":         orderTypeMarket,
		"side":         int(order.Side.Sign()),
		"productType":  order.ProductType,
		"limitPrice":   0,
		"stopPrice":    0,
		"validity":     "DAY",
		"disclosedQty": 0,
		"offlineOrder": false,
	}
	if order.OrderType == types.OrderTypeLimit {
		payload["type"] = orderTypeLimit
		payload["limitPrice"] = order.LimitPrice
	}

	logger := g.logger.With().Str("symbol", order.Symbol).Str("side", string(order.Side)).Int("qty", order.Quantity).Logger()
	logger.Info().Str("order_type", order.OrderType).Msg("placing order")

	body, err := g.do(ctx, request{method: http.MethodPost, path: "/api/v3/orders", body: payload, signed: true})
	if err != nil {
		ordersTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("order failed")
		return nil, err
	}

	resp := &types.OrderResponse{
		OrderID: gjson.GetBytes(body, "id").String(),
		Status:  gjson.GetBytes(body, "s").String(),
		Message: gjson.GetBytes(body, "message").String(),
	}
	if resp.Status == "error" {
		ordersTotal.WithLabelValues("rejected").Inc()
		return nil, &RequestError{Kind: ErrRequestRejected, Method: http.MethodPost, Path: "/api/v3/orders", Payload: string(body)}
	}
	ordersTotal.WithLabelValues("placed").Inc()
	logger.Info().Str("order_id", resp.OrderID).Str("status", resp.Status).Msg("order placed")
	return resp, nil
}

// Positions returns the broker's net positions
func (g *Gateway) Positions(ctx context.Context) ([]types.BrokerPosition, error) {
	body, err := g.do(ctx, request{method: http.MethodGet, path: "/api/v3/positions", signed: true})
	if err != nil {
		return nil, err
	}

	rows := gjson.GetBytes(body, "netPositions").Array()
	positions := make([]types.BrokerPosition, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, types.BrokerPosition{
			Symbol:      row.Get("symbol").String(),
			NetQuantity: int(row.Get("netQty").Int()),
			AvgPrice:    row.Get("netAvg").Float(),
			RealizedPnL: row.Get("realized_profit").Float(),
			Unrealized:  row.Get("unrealized_profit").Float(),
			ProductType: row.Get("productType").String(),
		})
	}
	return positions, nil
}
