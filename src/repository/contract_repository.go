package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"livefeed/src/database"
	"livefeed/src/model"
	"livefeed/src/utils"
)

const (
	upsertBatchSize    = 500
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

var ErrNoReferenceDB = errors.New("reference db not initialised")

var futureTypes = []string{
	model.InstrumentTypeFutureCommodity,
	model.InstrumentTypeFutureIndex,
	model.InstrumentTypeFutureStock,
}

var optionTypes = []string{"CE", "PE"}

type ContractRepository struct {
	db *gorm.DB
}

// ContractSearchOptions narrows Search. Empty fields are ignored.
type ContractSearchOptions struct {
	Exchange       string
	Query          string
	InstrumentType string
	Limit          int
}

// NewContractRepository creates a repository on the shared reference DB.
func NewContractRepository() *ContractRepository {
	logger.WithField("component", "ContractRepository").
		Debug("Creating new ContractRepository with reference DB")

	return &ContractRepository{
		db: database.ReferenceDB,
	}
}

func NewContractRepositoryWithDB(db *gorm.DB) *ContractRepository {
	return &ContractRepository{
		db: db,
	}
}

// Available reports whether a store is attached.
func (r *ContractRepository) Available() bool {
	return r != nil && r.db != nil
}

// NearestFuture returns the non-option future of symbol with the earliest
// expiry on or after the day of asOf. A nil contract means no match.
func (r *ContractRepository) NearestFuture(ctx context.Context, exchange, symbol string, asOf time.Time) (*model.Contract, error) {
	if !r.Available() {
		return nil, ErrNoReferenceDB
	}
	day := utils.ResetTime(asOf, "day").UTC()

	var rows []model.Contract
	err := r.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ?", exchange, symbol).
		Where("instrument_type IN ?", futureTypes).
		Where("option_type NOT IN ?", optionTypes).
		Where("expiry >= ?", day).
		Order("expiry ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindBySymbol returns a non-expiring contract such as an index or equity.
func (r *ContractRepository) FindBySymbol(ctx context.Context, exchange, symbol string) (*model.Contract, error) {
	if !r.Available() {
		return nil, ErrNoReferenceDB
	}

	var rows []model.Contract
	err := r.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND expiry IS NULL", exchange, symbol).
		Order("id ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Search matches the query against symbol, trading symbol and name,
// case-insensitively. Exact symbol matches rank first, then prefix matches.
func (r *ContractRepository) Search(ctx context.Context, opts ContractSearchOptions) ([]model.Contract, error) {
	if !r.Available() {
		return nil, ErrNoReferenceDB
	}

	query := r.db.WithContext(ctx).Model(&model.Contract{})
	if opts.Exchange != "" {
		query = query.Where("exchange = ?", strings.ToUpper(opts.Exchange))
	}
	if opts.InstrumentType != "" {
		query = query.Where("instrument_type = ?", opts.InstrumentType)
	}
	q := strings.ToLower(strings.TrimSpace(opts.Query))
	if q != "" {
		like := "%" + q + "%"
		query = query.Where("(LOWER(symbol) LIKE ? OR LOWER(trading_symbol) LIKE ? OR LOWER(name) LIKE ?)", like, like, like)
	}

	limit := opts.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}

	var rows []model.Contract
	if err := query.Order("symbol ASC, expiry ASC").Limit(maxSearchLimit).Find(&rows).Error; err != nil {
		return nil, err
	}

	if q != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			return searchRank(rows[i], q) < searchRank(rows[j], q)
		})
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func searchRank(c model.Contract, q string) int {
	symbol := strings.ToLower(c.Symbol)
	switch {
	case symbol == q:
		return 0
	case strings.HasPrefix(symbol, q), strings.HasPrefix(strings.ToLower(c.TradingSymbol), q):
		return 1
	default:
		return 2
	}
}

// UpsertContracts writes contract master rows keyed on exchange and token.
func (r *ContractRepository) UpsertContracts(ctx context.Context, contracts []model.Contract) (int, error) {
	if !r.Available() {
		return 0, ErrNoReferenceDB
	}
	if len(contracts) == 0 {
		return 0, nil
	}

	rows := make([]model.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.Exchange == "" || c.Token == "" {
			continue
		}
		c.ID = 0
		c.Exchange = strings.ToUpper(c.Exchange)
		if c.Expiry != nil {
			e := c.Expiry.UTC()
			c.Expiry = &e
		}
		rows = append(rows, c)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "exchange"},
				{Name: "token"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"symbol",
				"trading_symbol",
				"name",
				"instrument_type",
				"option_type",
				"lot_size",
				"expiry",
				"updated_at",
			}),
		}).
		CreateInBatches(&rows, upsertBatchSize).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// DeleteExpired removes contracts whose expiry is before the given time.
func (r *ContractRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if !r.Available() {
		return 0, ErrNoReferenceDB
	}
	res := r.db.WithContext(ctx).
		Where("expiry IS NOT NULL AND expiry < ?", before.UTC()).
		Delete(&model.Contract{})
	return res.RowsAffected, res.Error
}
