package migrations

import "gorm.io/gorm"

// AddJournalIndexes adds the indexes used by startup restore and the audit queries
func AddJournalIndexes(db *gorm.DB) error {
	indexes := []string{
		// Startup restore reads today's trades by exit time
		`CREATE INDEX IF NOT EXISTS idx_trade_records_exit_time
		 ON trade_records(exit_time)`,

		`CREATE INDEX IF NOT EXISTS idx_trade_records_correlation_id
		 ON trade_records(correlation_id)`,

		`CREATE INDEX IF NOT EXISTS idx_order_records_correlation_id
		 ON order_records(correlation_id)`,

		`CREATE INDEX IF NOT EXISTS idx_signal_records_outcome
		 ON signal_records(outcome)`,

		`CREATE INDEX IF NOT EXISTS idx_mode_change_records_changed_at
		 ON mode_change_records(changed_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
