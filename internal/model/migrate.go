package model

import "gorm.io/gorm"

// AutoMigrate runs GORM auto-migration for all models and creates custom indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Event{},
		&AccessCode{},
		&Session{},
	); err != nil {
		return err
	}

	// Uppercase-unique code strings regardless of stored casing.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_access_codes_code_upper " +
			"ON access_codes ((upper(code)))",
	).Error; err != nil {
		return err
	}

	// The sweeps scan active sessions by staleness; keep that path indexed.
	return db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_sessions_active_last_activity " +
			"ON sessions (last_activity) WHERE is_active",
	).Error
}
