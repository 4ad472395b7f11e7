package journal

import (
	"time"

	"gorm.io/gorm"
)

const (
	OutcomePending  = "PENDING"
	OutcomeExecuted = "EXECUTED"
	OutcomeRejected = "REJECTED"
	OutcomeExpired  = "EXPIRED"
	OutcomeFailed   = "FAILED"

	PurposeEntry = "ENTRY"
	PurposeExit  = "EXIT"

	OrderPlaced = "PLACED"
	OrderFailed = "FAILED"
)

// TradeRecord is a closed trade as written to the journal
type TradeRecord struct {
	gorm.Model    `json:"-"`
	TradeID       string    `gorm:"uniqueIndex" json:"trade_id"`
	CorrelationID string    `json:"correlation_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      int       `json:"qty"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	StopLoss      float64   `json:"stop_loss"`
	Target        float64   `json:"target"`
	Mode          string    `json:"mode"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	PnL           float64   `json:"pnl"`
	ExitReason    string    `json:"exit_reason"`
}

// OrderRecord is every order sent to the broker, successful or not
type OrderRecord struct {
	gorm.Model    `json:"-"`
	OrderID       string `gorm:"uniqueIndex" json:"order_id"`
	BrokerOrderID string `json:"broker_order_id"`
	CorrelationID string `json:"correlation_id"`
	Purpose       string `json:"purpose"` // ENTRY or EXIT
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      int    `json:"qty"`
	OrderType     string `json:"order_type"`
	ProductType   string `json:"product_type"`
	Status        string `json:"status"` // PLACED or FAILED
	Message       string `json:"message"`
}

// SignalRecord follows a proposal from generation to its terminal outcome
type SignalRecord struct {
	gorm.Model    `json:"-"`
	CorrelationID string     `gorm:"uniqueIndex" json:"correlation_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Quantity      int        `json:"qty"`
	StopLoss      float64    `json:"stop_loss"`
	Target        float64    `json:"target"`
	ProposedAt    time.Time  `json:"proposed_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Outcome       string     `json:"outcome"`
	Detail        string     `json:"detail"`
	ResolvedAt    *time.Time `json:"resolved_at"`
}

type ModeChangeRecord struct {
	gorm.Model `json:"-"`
	FromMode   string    `json:"from"`
	ToMode     string    `json:"to"`
	Accepted   bool      `json:"accepted"`
	Reason     string    `json:"reason"`
	ChangedAt  time.Time `json:"changed_at"`
}
