package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillAvailabilityScheduleID = "2026-07-12_backfill_availability_schedule_id"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillAvailabilityScheduleID, apply: backfillAvailabilityScheduleID},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillAvailabilityScheduleID repairs availability rows written before the
// schedule id was denormalized onto them, copying it from the owning
// candidate.
func backfillAvailabilityScheduleID(db *gorm.DB) error {
	return db.Exec(`
		UPDATE availabilities
		SET schedule_id = (
			SELECT candidates.schedule_id FROM candidates
			WHERE candidates.candidate_id = availabilities.candidate_id
		)
		WHERE schedule_id IS NULL OR schedule_id = '';
	`).Error
}
