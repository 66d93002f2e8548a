package marketcache

import (
	"errors"
	"sync"
	"time"

	"livefeed/src/model"
)

var (
	ErrInvalidTick = errors.New("tick rejected: instrument missing or price not positive")
	ErrOutOfOrder  = errors.New("tick rejected: older than cached value")
	ErrSuperseded  = errors.New("tick rejected: push value takes priority")
)

type entry struct {
	tick       model.Tick
	populated  bool
	staleAfter time.Duration
	lastPush   time.Time
}

// Cache keeps the latest tick per instrument. Freshness is derived when
// the value is read, never stored.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(staleAfter time.Duration, opts ...Option) *Cache {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Second
	}
	c := &Cache{
		entries:    make(map[string]*entry),
		staleAfter: staleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates a WAITING placeholder. An existing entry keeps its value
// and only picks up the new threshold.
func (c *Cache) Register(name string, staleAfter time.Duration) {
	if staleAfter <= 0 {
		staleAfter = c.staleAfter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok {
		e.staleAfter = staleAfter
		return
	}
	c.entries[name] = &entry{
		tick:       model.Tick{Instrument: name},
		staleAfter: staleAfter,
	}
}

func (c *Cache) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return false
	}
	delete(c.entries, name)
	return true
}

// Upsert stores t unless its price is not positive, it is older than the
// cached tick, or it is a poll value stamped no later than a cached push value.
func (c *Cache) Upsert(t model.Tick) error {
	if !t.Valid() {
		return ErrInvalidTick
	}
	if t.ObservedAt.IsZero() {
		t.ObservedAt = c.now()
	}
	t.Freshness = ""

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[t.Instrument]
	if !ok {
		e = &entry{staleAfter: c.staleAfter}
		c.entries[t.Instrument] = e
	}
	if e.populated {
		prev := e.tick
		if t.ObservedAt.Before(prev.ObservedAt) {
			return ErrOutOfOrder
		}
		if t.Source == model.SourcePoll && prev.Source == model.SourcePush && !t.ObservedAt.After(prev.ObservedAt) {
			return ErrSuperseded
		}
	}

	e.tick = t
	e.populated = true
	if t.Source == model.SourcePush {
		e.lastPush = t.ObservedAt
	}
	return nil
}

// Get returns the tick with freshness filled in. Registered instruments that
// never received a value come back WAITING.
func (c *Cache) Get(name string) (model.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return model.Tick{}, false
	}
	return c.view(e, c.now()), true
}

// Snapshot copies every entry.
func (c *Cache) Snapshot() map[string]model.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make(map[string]model.Tick, len(c.entries))
	for name, e := range c.entries {
		out[name] = c.view(e, now)
	}
	return out
}

// LastPush is the observation time of the newest push tick, zero if none.
func (c *Cache) LastPush(name string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[name]; ok {
		return e.lastPush
	}
	return time.Time{}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *Cache) view(e *entry, now time.Time) model.Tick {
	t := e.tick
	switch {
	case !e.populated:
		t.Freshness = model.FreshnessWaiting
	case now.Sub(t.ObservedAt) < e.staleAfter:
		t.Freshness = model.FreshnessLive
	default:
		t.Freshness = model.FreshnessStale
	}
	return t
}
