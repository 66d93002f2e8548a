package migrations

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"livefeed/src/model"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_seed_last_known_good_contracts", seedLastKnownGood); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_uppercase_contract_exchanges", uppercaseExchanges); err != nil {
		return err
	}

	return nil
}

// seedLastKnownGood makes a fresh store able to resolve the core names
// before the first contract master sync. Existing rows win.
func seedLastKnownGood(db *gorm.DB) error {
	rows := make([]model.Contract, len(model.LastKnownGood))
	copy(rows, model.LastKnownGood)
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func uppercaseExchanges(db *gorm.DB) error {
	var contracts []model.Contract
	if err := db.Where("exchange <> UPPER(exchange)").Find(&contracts).Error; err != nil {
		return err
	}
	for _, c := range contracts {
		if err := db.Model(&model.Contract{}).
			Where("id = ?", c.ID).
			Update("exchange", strings.ToUpper(c.Exchange)).Error; err != nil {
			return err
		}
	}
	return nil
}
