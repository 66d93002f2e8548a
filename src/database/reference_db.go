package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"livefeed/src/database/migrations"
	"livefeed/src/model"
)

// ReferenceDB holds the contract master used by instrument resolution.
var ReferenceDB *gorm.DB

// Open builds the gorm dialector for the configured driver.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case "", "sqlite":
		dialector = sqlite.Open(config.DatabaseURL)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported reference db driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("open reference db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	return db, nil
}

// Migrate creates the schema and applies the data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Contract{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on ReferenceDB: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on ReferenceDB: %w", err)
	}
	return nil
}

// InitReferenceDB opens and migrates the reference store. When ENABLE_DB is
// false it leaves ReferenceDB nil and resolution falls through to the
// venue search and the static table.
func InitReferenceDB() error {
	config := GetConfig()
	if !config.EnableDB {
		logrus.Info("[database] reference db disabled")
		return nil
	}

	db, err := Open(config)
	if err != nil {
		return err
	}
	ReferenceDB = db
	logrus.WithField("driver", config.Driver).Info("[database] ReferenceDB connection established")

	if err := Migrate(ReferenceDB); err != nil {
		return err
	}
	logrus.Info("[database] ReferenceDB migrations completed")
	return nil
}
