package poller

// Tests in this file:
// - TestPollOnceStampsRequestStart: a poll tick carries the request start time and POLL source.
// - TestPollOnceNoPrice: an empty quote yields no tick and no error.
// - TestLoopIngestsPollOnlyInstrument: poll-only instruments are polled every cycle.
// - TestLoopSkipsWhileStreamFresh: hybrid instruments are skipped inside the quiet window.
// - TestLoopPollsWhenStreamQuiet: hybrid instruments are polled once the stream goes quiet.
// - TestFailuresAreSwallowed: snapshot errors never stop the loop.
// - TestStopEndsAllLoops: Stop returns after every loop exits.
// - TestRemoveStopsOneLoop: Remove cancels only the named instrument.
// - TestFetchNow: on-demand polls ingest and report errors.
// - TestIntervalStretchesWhenClosed: the calendar multiplies the interval off-hours.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livefeed/src/connectors"
	"livefeed/src/instruments"
	"livefeed/src/model"
	"livefeed/src/risk"
)

type fakeClient struct {
	calls atomic.Int32
	mu    sync.Mutex
	quote *connectors.Quote
	err   error
}

func (c *fakeClient) Snapshot(_ context.Context, _ model.Instrument) (*connectors.Quote, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.quote == nil {
		return nil, nil
	}
	q := *c.quote
	return &q, nil
}

type fakeSink struct {
	mu       sync.Mutex
	ticks    []model.Tick
	lastPush time.Time
	err      error
}

func (s *fakeSink) Ingest(t model.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ticks = append(s.ticks, t)
	return nil
}

func (s *fakeSink) LastPush(string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPush
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

type fakeClasses map[string]instruments.Class

func (f fakeClasses) Lookup(name string) (instruments.Entry, instruments.Class, bool) {
	c, ok := f[name]
	return instruments.Entry{Name: name}, c, ok
}

var gold = model.Instrument{Name: "GOLD", Exchange: "MCX", Token: "454819"}

func newTestEngine(client Snapshotter, sink Sink, classes Classifier, opts ...Option) (*Engine, *logrustest.Hook) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := Config{RatePerSecond: 1000, Burst: 10, Timeout: time.Second}
	return NewEngine(logrus.NewEntry(logger), cfg, client, sink, classes, opts...), hook
}

func TestPollOnceStampsRequestStart(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 62150, Bid: 62149, Ask: 62151, Close: 62000}}
	engine, _ := newTestEngine(client, &fakeSink{}, nil, WithClock(func() time.Time { return start }))

	tick, err := engine.PollOnce(context.Background(), gold)
	require.NoError(t, err)
	require.NotNil(t, tick)
	assert.Equal(t, "GOLD", tick.Instrument)
	assert.Equal(t, "454819", tick.Token)
	assert.Equal(t, 62150.0, tick.LastPrice)
	assert.Equal(t, 62000.0, tick.Close)
	assert.Equal(t, start, tick.ObservedAt)
	assert.Equal(t, model.SourcePoll, tick.Source)
}

func TestPollOnceNoPrice(t *testing.T) {
	engine, _ := newTestEngine(&fakeClient{}, &fakeSink{}, nil)

	tick, err := engine.PollOnce(context.Background(), gold)
	require.NoError(t, err)
	assert.Nil(t, tick)
}

func TestLoopIngestsPollOnlyInstrument(t *testing.T) {
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 100}}
	sink := &fakeSink{lastPush: time.Now()}
	classes := fakeClasses{"GOLD": {Mode: instruments.ModePollOnly, PollInterval: 10 * time.Millisecond}}
	engine, _ := newTestEngine(client, sink, classes)

	engine.Add(context.Background(), gold)
	defer engine.Stop()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestLoopSkipsWhileStreamFresh(t *testing.T) {
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 100}}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	sink := &fakeSink{lastPush: now.Add(-500 * time.Millisecond)}
	classes := fakeClasses{"GOLD": {Mode: instruments.ModeHybrid, PollInterval: 5 * time.Millisecond, QuietWindow: 2 * time.Second}}
	engine, _ := newTestEngine(client, sink, classes, WithClock(func() time.Time { return now }))

	engine.Add(context.Background(), gold)
	time.Sleep(60 * time.Millisecond)
	engine.Stop()

	assert.Zero(t, client.calls.Load())
	assert.Zero(t, sink.count())
}

func TestLoopPollsWhenStreamQuiet(t *testing.T) {
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 100}}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	sink := &fakeSink{lastPush: now.Add(-3 * time.Second)}
	classes := fakeClasses{"GOLD": {Mode: instruments.ModeHybrid, PollInterval: 5 * time.Millisecond, QuietWindow: 2 * time.Second}}
	engine, _ := newTestEngine(client, sink, classes, WithClock(func() time.Time { return now }))

	engine.Add(context.Background(), gold)
	defer engine.Stop()

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestFailuresAreSwallowed(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	sink := &fakeSink{}
	classes := fakeClasses{"GOLD": {Mode: instruments.ModePollOnly, PollInterval: 5 * time.Millisecond}}
	engine, hook := newTestEngine(client, sink, classes)

	engine.Add(context.Background(), gold)
	require.Eventually(t, func() bool { return client.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	client.mu.Lock()
	client.err = nil
	client.quote = &connectors.Quote{LastPrice: 101}
	client.mu.Unlock()

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	engine.Stop()

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Message == "poll failed" {
			failures++
		}
	}
	assert.GreaterOrEqual(t, failures, 3)
}

func TestStopEndsAllLoops(t *testing.T) {
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 100}}
	classes := fakeClasses{
		"GOLD":   {Mode: instruments.ModePollOnly, PollInterval: time.Hour},
		"SILVER": {Mode: instruments.ModePollOnly, PollInterval: time.Hour},
	}
	engine, _ := newTestEngine(client, &fakeSink{}, classes)

	engine.Add(context.Background(), gold)
	engine.Add(context.Background(), model.Instrument{Name: "SILVER", Exchange: "MCX", Token: "451667"})
	assert.Len(t, engine.Running(), 2)

	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, engine.Running())
}

func TestRemoveStopsOneLoop(t *testing.T) {
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 100}}
	classes := fakeClasses{"GOLD": {Mode: instruments.ModePollOnly, PollInterval: time.Hour}}
	engine, _ := newTestEngine(client, &fakeSink{}, classes)
	silver := model.Instrument{Name: "SILVER", Exchange: "MCX", Token: "451667"}

	engine.Add(context.Background(), gold)
	engine.Add(context.Background(), silver)
	engine.Remove("GOLD")

	assert.Equal(t, []string{"SILVER"}, engine.Running())
	_, err := engine.FetchNow(context.Background(), "GOLD")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
	engine.Stop()
}

func TestFetchNow(t *testing.T) {
	client := &fakeClient{quote: &connectors.Quote{LastPrice: 24512.35}}
	sink := &fakeSink{}
	classes := fakeClasses{"GOLD": {Mode: instruments.ModePollOnly, PollInterval: time.Hour}}
	engine, _ := newTestEngine(client, sink, classes)
	engine.Add(context.Background(), gold)
	defer engine.Stop()

	tick, err := engine.FetchNow(context.Background(), "GOLD")
	require.NoError(t, err)
	assert.Equal(t, 24512.35, tick.LastPrice)

	client.mu.Lock()
	client.quote = nil
	client.mu.Unlock()
	_, err = engine.FetchNow(context.Background(), "GOLD")
	assert.ErrorIs(t, err, ErrNoData)

	client.mu.Lock()
	client.err = model.ErrAuthentication
	client.mu.Unlock()
	_, err = engine.FetchNow(context.Background(), "GOLD")
	assert.ErrorIs(t, err, model.ErrAuthentication)
}

func TestIntervalStretchesWhenClosed(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	cal := risk.NewCalendar(ist, nil)
	cfg := risk.SessionPollConfig{
		OpenMultiplier:           decimal.NewFromInt(1),
		ClosedMultiplier:         decimal.NewFromInt(10),
		WeekendHolidayMultiplier: decimal.NewFromInt(30),
	}
	class := instruments.Class{Mode: instruments.ModePollOnly, PollInterval: 500 * time.Millisecond}

	open := time.Date(2026, 3, 2, 11, 0, 0, 0, ist)
	engine, _ := newTestEngine(&fakeClient{}, &fakeSink{}, nil, WithCalendar(cal, cfg), WithClock(func() time.Time { return open }))
	assert.Equal(t, 500*time.Millisecond, engine.Interval(model.Instrument{Exchange: "NSE"}, class))

	night := time.Date(2026, 3, 2, 23, 59, 0, 0, ist)
	engine.now = func() time.Time { return night }
	assert.Equal(t, 5*time.Second, engine.Interval(model.Instrument{Exchange: "NSE"}, class))

	sunday := time.Date(2026, 3, 1, 11, 0, 0, 0, ist)
	engine.now = func() time.Time { return sunday }
	assert.Equal(t, 15*time.Second, engine.Interval(model.Instrument{Exchange: "NSE"}, class))
}
