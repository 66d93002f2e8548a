package database

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"livefeed/src/database/migrations"
	"livefeed/src/model"
)

func memoryConfig(t *testing.T) Config {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return Config{
		Driver:       "sqlite",
		DatabaseURL:  fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		GormLogLevel: 1,
	}
}

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestMigrateSeedsLastKnownGood(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, Migrate(db))

	var count int64
	require.NoError(t, db.Model(&model.Contract{}).Count(&count).Error)
	assert.Equal(t, int64(len(model.LastKnownGood)), count)

	var nifty model.Contract
	require.NoError(t, db.Where("symbol = ?", "NIFTY").First(&nifty).Error)
	assert.Equal(t, "NSE", nifty.Exchange)
	assert.Equal(t, "26000", nifty.Token)

	var applied []migrations.DataMigration
	require.NoError(t, db.Find(&applied).Error)
	assert.Len(t, applied, 2)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	var count int64
	require.NoError(t, db.Model(&model.Contract{}).Count(&count).Error)
	assert.Equal(t, int64(len(model.LastKnownGood)), count)
}

func TestUppercaseExchangeMigration(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, db.AutoMigrate(&model.Contract{}, &migrations.DataMigration{}))
	require.NoError(t, db.Create(&model.Contract{Exchange: "mcx", Token: "1", Symbol: "ZINC"}).Error)

	require.NoError(t, migrations.Run(db))

	var zinc model.Contract
	require.NoError(t, db.Where("symbol = ?", "ZINC").First(&zinc).Error)
	assert.Equal(t, "MCX", zinc.Exchange)
}

func TestRunOnceValidation(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, db.AutoMigrate(&migrations.DataMigration{}))

	assert.Error(t, migrations.RunOnce(db, "", func(*gorm.DB) error { return nil }))
	assert.Error(t, migrations.RunOnce(db, "x", nil))
	assert.NoError(t, migrations.RunOnce(nil, "x", nil))

	calls := 0
	fn := func(*gorm.DB) error { calls++; return nil }
	require.NoError(t, migrations.RunOnce(db, "once", fn))
	require.NoError(t, migrations.RunOnce(db, "once", fn))
	assert.Equal(t, 1, calls)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}
