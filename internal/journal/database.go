package journal

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/proxyhifi-dev/Bot/internal/types"
	"gorm.io/gorm"
)

var ErrSignalNotFound = errors.New("signal not found")

// Database is the append-only trade journal
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) SaveTrade(trade types.Trade) error {
	record := &TradeRecord{
		TradeID:       uuid.NewString(),
		CorrelationID: trade.CorrelationID,
		Symbol:        trade.Symbol,
		Side:          string(trade.Side),
		Quantity:      trade.Quantity,
		EntryPrice:    trade.EntryPrice,
		ExitPrice:     trade.ExitPrice,
		StopLoss:      trade.StopLoss,
		Target:        trade.Target,
		Mode:          string(trade.Mode),
		EntryTime:     trade.EntryTime.UTC(),
		ExitTime:      trade.ExitTime.UTC(),
		PnL:           trade.PnL,
		ExitReason:    trade.ExitReason,
	}
	return d.db.Create(record).Error
}

func (d *Database) SaveOrder(record *OrderRecord) error {
	if record.OrderID == "" {
		record.OrderID = uuid.NewString()
	}
	return d.db.Create(record).Error
}

func (d *Database) SaveSignal(signal types.PendingSignal) error {
	return d.db.Create(&SignalRecord{
		CorrelationID: signal.CorrelationID,
		Symbol:        signal.Symbol,
		Side:          string(signal.Side),
		Quantity:      signal.Quantity,
		StopLoss:      signal.StopLoss,
		Target:        signal.Target,
		ProposedAt:    signal.CreatedAt,
		ExpiresAt:     signal.ExpiresAt,
		Outcome:       OutcomePending,
	}).Error
}

// ResolveSignal records the terminal outcome of a proposal
func (d *Database) ResolveSignal(correlationID, outcome, detail string) error {
	result := d.db.Model(&SignalRecord{}).
		Where("correlation_id = ?", correlationID).
		Updates(map[string]interface{}{
			"outcome":     outcome,
			"detail":      detail,
			"resolved_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrSignalNotFound
	}

	return nil
}

func (d *Database) SaveModeChange(from, to types.Mode, accepted bool, reason string) error {
	return d.db.Create(&ModeChangeRecord{
		FromMode:  string(from),
		ToMode:    string(to),
		Accepted:  accepted,
		Reason:    reason,
		ChangedAt: time.Now(),
	}).Error
}

// TradesSince returns trades closed at or after since, oldest first.
// Times are stored in UTC so the text comparison sqlite does stays ordered.
func (d *Database) TradesSince(since time.Time) ([]types.Trade, error) {
	var records []TradeRecord
	if err := d.db.Where("exit_time >= ?", since.UTC()).
		Order("exit_time ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	trades := make([]types.Trade, 0, len(records))
	for _, r := range records {
		trades = append(trades, types.Trade{
			Position: types.Position{
				Symbol:     r.Symbol,
				Side:       types.Side(r.Side),
				Quantity:   r.Quantity,
				EntryPrice: r.EntryPrice,
				StopLoss:   r.StopLoss,
				Target:     r.Target,
				Mode:       types.Mode(r.Mode),
				EntryTime:  r.EntryTime,

				CorrelationID: r.CorrelationID,
			},
			ExitPrice:  r.ExitPrice,
			ExitTime:   r.ExitTime,
			PnL:        r.PnL,
			ExitReason: r.ExitReason,
		})
	}
	return trades, nil
}

func (d *Database) GetSignal(correlationID string) (*SignalRecord, error) {
	var record SignalRecord
	if err := d.db.Where("correlation_id = ?", correlationID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (d *Database) RecentOrders(limit int) ([]OrderRecord, error) {
	var orders []OrderRecord
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) ModeChanges(limit int) ([]ModeChangeRecord, error) {
	var changes []ModeChangeRecord
	if err := d.db.Order("changed_at DESC").Limit(limit).Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}
