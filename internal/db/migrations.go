package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS sightings (
		id              BIGSERIAL PRIMARY KEY,
		date            DATE NOT NULL,
		time            TIME NOT NULL,
		plate           TEXT NOT NULL,
		plate_image     TEXT NOT NULL,
		original_image  TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sightings_date_time ON sightings(date, time);`,
	`CREATE INDEX IF NOT EXISTS idx_sightings_plate ON sightings(plate);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
