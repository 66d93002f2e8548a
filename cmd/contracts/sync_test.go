package contracts

// Tests in this file:
// - TestSyncUpsertsEveryExchange: rows from each exchange reach the repository and expired rows are pruned.
// - TestSyncContinuesPastFailingExchange: one failing download is reported without stopping the others.
// - TestSyncNeedsSourceAndStore: missing collaborators are rejected.

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"livefeed/src/model"
	"livefeed/src/repository"
)

type fakeSource struct {
	rows map[string][]model.Contract
	errs map[string]error
}

func (f fakeSource) ContractMaster(_ context.Context, exchange string) ([]model.Contract, error) {
	if err := f.errs[exchange]; err != nil {
		return nil, err
	}
	return f.rows[exchange], nil
}

type fakeStore struct {
	upserted []model.Contract
	prunedAt time.Time
}

func (f *fakeStore) UpsertContracts(_ context.Context, rows []model.Contract) (int, error) {
	f.upserted = append(f.upserted, rows...)
	return len(rows), nil
}

func (f *fakeStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.prunedAt = before
	return 3, nil
}

func setupDBMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock
}

func TestSyncUpsertsEveryExchange(t *testing.T) {
	db, mock := setupDBMock(t)
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	src := fakeSource{rows: map[string][]model.Contract{
		"MCX": {{Exchange: "MCX", Token: "454819", Symbol: "GOLD", InstrumentType: model.InstrumentTypeFutureCommodity, LotSize: 1, Expiry: &expiry}},
	}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "contracts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "contracts" WHERE expiry IS NOT NULL AND expiry < $1`)).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	log, _ := logrustest.NewNullLogger()
	s := &Sync{
		Log:    logrus.NewEntry(log),
		Source: src,
		Store:  repository.NewContractRepositoryWithDB(db),
		Config: &Config{Exchanges: []string{"mcx", " "}, PruneExpired: true},
		Now:    func() time.Time { return now },
	}

	res, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"MCX": 1}, res.Upserted)
	assert.Equal(t, int64(4), res.Pruned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncContinuesPastFailingExchange(t *testing.T) {
	src := fakeSource{
		rows: map[string][]model.Contract{
			"NSE": {{Exchange: "NSE", Token: "26000", Symbol: "NIFTY", InstrumentType: model.InstrumentTypeIndex}},
		},
		errs: map[string]error{"MCX": errors.New("503 from contract master")},
	}
	store := &fakeStore{}
	log, hook := logrustest.NewNullLogger()
	s := &Sync{
		Log:    logrus.NewEntry(log),
		Source: src,
		Store:  store,
		Config: &Config{Exchanges: []string{"MCX", "NSE", "NFO"}},
	}

	res, err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MCX: 503 from contract master")
	assert.Equal(t, map[string]int{"NSE": 1, "NFO": 0}, res.Upserted)
	assert.Len(t, store.upserted, 1)
	assert.True(t, store.prunedAt.IsZero())

	var failed int
	for _, e := range hook.AllEntries() {
		if e.Message == "contract sync failed" {
			failed++
			assert.Equal(t, "MCX", e.Data["exchange"])
		}
	}
	assert.Equal(t, 1, failed)
}

func TestSyncNeedsSourceAndStore(t *testing.T) {
	s := &Sync{Config: &Config{}}
	_, err := s.Start(context.Background())
	assert.Error(t, err)
}
