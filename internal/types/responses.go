package types

import "time"

// OrderResponse is the broker's acknowledgement of a placed order
type OrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BrokerPosition is one row of the broker's net positions report
type BrokerPosition struct {
	Symbol      string  `json:"symbol"`
	NetQuantity int     `json:"net_qty"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	Unrealized  float64 `json:"unrealized_pnl"`
	ProductType string  `json:"product_type"`
}

// RiskState is the per-day counter snapshot kept by the risk gate
type RiskState struct {
	TradesToday   int    `json:"trades_today"`
	LossesToday   int    `json:"losses_today"`
	LastResetDate string `json:"last_reset_date"`
}

// TokenRecord is the persisted access token file
type TokenRecord struct {
	AccessToken string `json:"access_token"`
	SavedAt     int64  `json:"saved_at"`
}

func (t TokenRecord) SavedTime() time.Time {
	return time.Unix(t.SavedAt, 0)
}
