package instruments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"livefeed/src/model"
)

// ContractStore is the reference-data lookup.
type ContractStore interface {
	NearestFuture(ctx context.Context, exchange, symbol string, asOf time.Time) (*model.Contract, error)
	FindBySymbol(ctx context.Context, exchange, symbol string) (*model.Contract, error)
}

// SymbolSearcher is the venue generic-symbol lookup.
type SymbolSearcher interface {
	SearchScrip(ctx context.Context, exchange, symbol string) ([]model.Contract, error)
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// Resolver maps logical names to venue instruments and remembers the result
// until the contract expires. Either collaborator may be nil.
type Resolver struct {
	log    *logrus.Entry
	table  *Table
	store  ContractStore
	search SymbolSearcher
	now    func() time.Time
	loc    *time.Location

	mu     sync.RWMutex
	cache  map[string]model.Instrument
	flight singleflight.Group
}

func NewResolver(logger *logrus.Entry, table *Table, store ContractStore, search SymbolSearcher, opts ...Option) *Resolver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Resolver{
		log:    logger.WithField("component", "resolver"),
		table:  table,
		store:  store,
		search: search,
		now:    time.Now,
		loc:    time.UTC,
		cache:  make(map[string]model.Instrument),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the cached instrument while it is unexpired, and otherwise
// runs reference, generic and static lookups in that order.
func (r *Resolver) Resolve(ctx context.Context, name string) (model.Instrument, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return model.Instrument{}, fmt.Errorf("%w: empty name", model.ErrResolution)
	}

	if inst, ok := r.Cached(name); ok {
		if !inst.Expired(r.now(), r.loc) {
			return inst, nil
		}
		r.log.WithFields(logrus.Fields{
			"instrument": name,
			"expiry":     inst.ExpiryLabel(),
		}).Info("contract expired, re-resolving")
	}

	v, err, _ := r.flight.Do(name, func() (interface{}, error) {
		inst, err := r.lookup(ctx, name)
		if err != nil {
			return model.Instrument{}, err
		}
		r.mu.Lock()
		r.cache[name] = inst
		r.mu.Unlock()
		return inst, nil
	})
	if err != nil {
		return model.Instrument{}, err
	}
	return v.(model.Instrument), nil
}

// ResolveAll resolves every name; failures are reported per name and never
// stop the rest.
func (r *Resolver) ResolveAll(ctx context.Context, names []string) ([]model.Instrument, map[string]error) {
	resolved := make([]model.Instrument, 0, len(names))
	failed := make(map[string]error)
	for _, name := range names {
		inst, err := r.Resolve(ctx, name)
		if err != nil {
			r.log.WithError(err).WithField("instrument", name).Warn("instrument excluded")
			failed[strings.ToUpper(name)] = err
			continue
		}
		resolved = append(resolved, inst)
	}
	return resolved, failed
}

func (r *Resolver) Cached(name string) (model.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.cache[strings.ToUpper(name)]
	return inst, ok
}

// Forget drops a cached resolution.
func (r *Resolver) Forget(name string) {
	r.mu.Lock()
	delete(r.cache, strings.ToUpper(name))
	r.mu.Unlock()
}

func (r *Resolver) lookup(ctx context.Context, name string) (model.Instrument, error) {
	entry, ok := r.entryFor(name)
	if !ok {
		return model.Instrument{}, fmt.Errorf("%w: %s is not a known instrument", model.ErrResolution, name)
	}
	log := r.log.WithFields(logrus.Fields{"instrument": name, "exchange": entry.Exchange})
	now := r.now()

	if c, err := r.fromReference(ctx, entry, now); err != nil {
		log.WithError(err).Debug("reference lookup failed")
	} else if c != nil {
		return r.bind(log, name, *c, model.ResolvedByReference, now), nil
	}

	if c, err := r.fromSearch(ctx, entry, now); err != nil {
		log.WithError(err).Debug("generic lookup failed")
	} else if c != nil {
		return r.bind(log, name, *c, model.ResolvedByGeneric, now), nil
	}

	if c, ok := model.LookupLastKnownGood(name); ok {
		return r.bind(log, name, c, model.ResolvedByStatic, now), nil
	}

	return model.Instrument{}, fmt.Errorf("%w: no strategy could resolve %s", model.ErrResolution, name)
}

func (r *Resolver) bind(log *logrus.Entry, name string, c model.Contract, by model.ResolutionStrategy, now time.Time) model.Instrument {
	inst := c.ToInstrument(name, by, now)
	log.WithFields(logrus.Fields{
		"token":       inst.Token,
		"resolved_by": by,
		"expiry":      inst.ExpiryLabel(),
	}).Info("instrument resolved")
	return inst
}

// entryFor falls back to the static table for names missing from the class table.
func (r *Resolver) entryFor(name string) (Entry, bool) {
	if r.table != nil {
		if e, _, ok := r.table.Lookup(name); ok {
			return e, true
		}
	}
	if c, ok := model.LookupLastKnownGood(name); ok {
		kind := KindIndex
		if c.InstrumentType == model.InstrumentTypeFutureCommodity {
			kind = KindFuture
		}
		return Entry{Name: name, Exchange: c.Exchange, Kind: kind}, true
	}
	return Entry{}, false
}

func (r *Resolver) fromReference(ctx context.Context, e Entry, now time.Time) (*model.Contract, error) {
	if r.store == nil {
		return nil, nil
	}
	if e.Kind == KindFuture {
		return r.store.NearestFuture(ctx, e.Exchange, e.Name, now.In(r.loc))
	}
	return r.store.FindBySymbol(ctx, e.Exchange, e.Name)
}

func (r *Resolver) fromSearch(ctx context.Context, e Entry, now time.Time) (*model.Contract, error) {
	if r.search == nil {
		return nil, nil
	}
	rows, err := r.search.SearchScrip(ctx, e.Exchange, e.Name)
	if err != nil {
		return nil, err
	}

	var candidates []model.Contract
	for _, c := range rows {
		if c.IsOption() || !strings.EqualFold(c.Symbol, e.Name) || c.Token == "" {
			continue
		}
		if c.Exchange == "" {
			c.Exchange = e.Exchange
		}
		inst := c.ToInstrument(e.Name, model.ResolvedByGeneric, now)
		if inst.Expired(now, r.loc) {
			continue
		}
		if e.Kind == KindFuture && c.Expiry == nil {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, errors.New("no matching contract in search results")
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Expiry, candidates[j].Expiry
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return &candidates[0], nil
}
