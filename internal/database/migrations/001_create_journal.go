package migrations

import (
	"github.com/proxyhifi-dev/Bot/internal/journal"
	"gorm.io/gorm"
)

// CreateJournal creates the journal tables
func CreateJournal(db *gorm.DB) error {
	return db.AutoMigrate(
		&journal.TradeRecord{},
		&journal.OrderRecord{},
		&journal.SignalRecord{},
		&journal.ModeChangeRecord{},
	)
}
