package live

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"livefeed/src/model"
)

type resolver interface {
	Resolve(ctx context.Context, name string) (model.Instrument, error)
	Forget(name string)
}

type stream interface {
	SubscribeInstrument(ctx context.Context, inst model.Instrument) error
	UnsubscribeInstrument(ctx context.Context, name string) error
	Instruments() []model.Instrument
}

type pollers interface {
	Add(ctx context.Context, inst model.Instrument)
}

// App ties resolution, streaming and polling together for instruments added
// or rolled over at runtime. Poll loops live on the root context, not on
// the request that added them.
type App struct {
	root     context.Context
	log      *logrus.Entry
	resolver resolver
	stream   stream
	pollers  pollers
	loc      *time.Location
	now      func() time.Time
}

func NewApp(root context.Context, log *logrus.Entry, r resolver, s stream, p pollers, loc *time.Location) *App {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if loc == nil {
		loc = time.UTC
	}
	return &App{root: root, log: log, resolver: r, stream: s, pollers: p, loc: loc, now: time.Now}
}

func (a *App) Subscribe(ctx context.Context, name string) (model.Instrument, error) {
	inst, err := a.resolver.Resolve(ctx, name)
	if err != nil {
		return model.Instrument{}, err
	}
	if err := a.stream.SubscribeInstrument(ctx, inst); err != nil {
		return model.Instrument{}, fmt.Errorf("subscribe %s: %w", name, err)
	}
	a.pollers.Add(a.root, inst)
	a.log.WithFields(logrus.Fields{"instrument": inst.Name, "token": inst.Token}).Info("instrument added")
	return inst, nil
}

// Unsubscribe drops the instrument; the feed's removal hook stops its poll loop.
func (a *App) Unsubscribe(ctx context.Context, name string) error {
	if err := a.stream.UnsubscribeInstrument(ctx, name); err != nil {
		return err
	}
	a.resolver.Forget(name)
	a.log.WithField("instrument", name).Info("instrument removed")
	return nil
}

// RollExpired re-resolves instruments whose contract has lapsed and swaps
// the subscription when the venue token changed.
func (a *App) RollExpired(ctx context.Context) int {
	rolled := 0
	now := a.now()
	for _, inst := range a.stream.Instruments() {
		if !inst.Expired(now, a.loc) {
			continue
		}
		log := a.log.WithFields(logrus.Fields{"instrument": inst.Name, "expiry": inst.ExpiryLabel()})

		fresh, err := a.resolver.Resolve(ctx, inst.Name)
		if err != nil {
			log.WithError(err).Warn("expired contract could not be re-resolved")
			continue
		}
		if fresh.Token == inst.Token {
			continue
		}
		if err := a.stream.UnsubscribeInstrument(ctx, inst.Name); err != nil {
			log.WithError(err).Warn("failed to drop expired contract")
		}
		if err := a.stream.SubscribeInstrument(ctx, fresh); err != nil {
			log.WithError(err).Error("failed to subscribe rolled contract")
			continue
		}
		a.pollers.Add(a.root, fresh)
		log.WithFields(logrus.Fields{"token": fresh.Token, "new_expiry": fresh.ExpiryLabel()}).Info("contract rolled")
		rolled++
	}
	return rolled
}

// WatchExpiry runs RollExpired every period until ctx ends.
func (a *App) WatchExpiry(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RollExpired(ctx)
		}
	}
}
