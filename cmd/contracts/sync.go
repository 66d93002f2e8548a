package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"livefeed/src/model"
)

// Source downloads the contract master of one exchange.
type Source interface {
	ContractMaster(ctx context.Context, exchange string) ([]model.Contract, error)
}

// Store persists contract master rows.
type Store interface {
	UpsertContracts(ctx context.Context, contracts []model.Contract) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sync refreshes the reference DB from the venue contract master.
type Sync struct {
	Log    *logger.Entry
	Source Source
	Store  Store
	Config *Config
	Now    func() time.Time
}

// Result counts what one sync run did, per exchange.
type Result struct {
	Upserted map[string]int `json:"upserted"`
	Pruned   int64          `json:"pruned"`
}

func (s *Sync) Start(ctx context.Context) (Result, error) {
	if s.Config == nil {
		s.Config = GetConfig()
	}
	if s.Log == nil {
		s.Log = logger.NewEntry(logger.StandardLogger())
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Source == nil || s.Store == nil {
		return Result{}, errors.New("contract sync needs a source and a store")
	}

	res := Result{Upserted: make(map[string]int)}
	var errs []error
	for _, exch := range s.Config.Exchanges {
		exch = strings.ToUpper(strings.TrimSpace(exch))
		if exch == "" {
			continue
		}
		n, err := s.syncExchange(ctx, exch)
		if err != nil {
			s.Log.WithError(err).WithField("exchange", exch).Error("contract sync failed")
			errs = append(errs, fmt.Errorf("%s: %w", exch, err))
			continue
		}
		res.Upserted[exch] = n
	}

	if s.Config.PruneExpired {
		pruned, err := s.Store.DeleteExpired(ctx, s.Now())
		if err != nil {
			s.Log.WithError(err).Error("pruning expired contracts failed")
			errs = append(errs, err)
		} else {
			res.Pruned = pruned
		}
	}

	s.Log.WithFields(logger.Fields{
		"upserted": res.Upserted,
		"pruned":   res.Pruned,
	}).Info("contract master synced")
	return res, errors.Join(errs...)
}

func (s *Sync) syncExchange(ctx context.Context, exch string) (int, error) {
	rows, err := s.Source.ContractMaster(ctx, exch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		s.Log.WithField("exchange", exch).Warn("contract master is empty")
		return 0, nil
	}
	return s.Store.UpsertContracts(ctx, rows)
}
