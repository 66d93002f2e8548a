package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"livefeed/src/connectors"
	"livefeed/src/instruments"
	"livefeed/src/metrics"
	"livefeed/src/model"
	"livefeed/src/risk"
)

var (
	ErrNoData            = errors.New("venue returned no price")
	ErrUnknownInstrument = errors.New("instrument is not polled")
)

var defaultClass = instruments.Class{
	Mode:         instruments.ModeHybrid,
	PollInterval: time.Second,
	QuietWindow:  2 * time.Second,
}

// Snapshotter fetches one quote over REST.
type Snapshotter interface {
	Snapshot(ctx context.Context, inst model.Instrument) (*connectors.Quote, error)
}

// Sink is where poll results go; the feed manager in production.
type Sink interface {
	Ingest(t model.Tick) error
	LastPush(name string) time.Time
}

// Classifier maps an instrument to its polling class.
type Classifier interface {
	Lookup(name string) (instruments.Entry, instruments.Class, bool)
}

type Option func(*Engine)

// WithCalendar stretches intervals while the instrument's exchange is closed.
func WithCalendar(cal *risk.Calendar, cfg risk.SessionPollConfig) Option {
	return func(e *Engine) {
		e.calendar = cal
		e.sessionCfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs one poll loop per instrument. Loops share a rate limiter so a
// burst of instruments cannot flood the venue.
type Engine struct {
	log        *logrus.Entry
	cfg        Config
	client     Snapshotter
	sink       Sink
	classes    Classifier
	limiter    *rate.Limiter
	calendar   *risk.Calendar
	sessionCfg risk.SessionPollConfig
	now        func() time.Time

	mu      sync.Mutex
	loops   map[string]context.CancelFunc
	tracked map[string]model.Instrument
	wg      sync.WaitGroup
}

func NewEngine(logger *logrus.Entry, cfg Config, client Snapshotter, sink Sink, classes Classifier, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	e := &Engine{
		log:        logger.WithField("component", "poller"),
		cfg:        cfg,
		client:     client,
		sink:       sink,
		classes:    classes,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		sessionCfg: risk.DefaultSessionPollConfig(),
		now:        time.Now,
		loops:      make(map[string]context.CancelFunc),
		tracked:    make(map[string]model.Instrument),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add starts the loop for inst unless one is already running.
func (e *Engine) Add(ctx context.Context, inst model.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked[inst.Name] = inst
	if _, ok := e.loops[inst.Name]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.loops[inst.Name] = cancel
	e.wg.Add(1)
	go e.loop(loopCtx, inst)
}

// Remove stops the loop for name.
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	cancel, ok := e.loops[name]
	delete(e.loops, name)
	delete(e.tracked, name)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every loop and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	for name, cancel := range e.loops {
		cancel()
		delete(e.loops, name)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Running lists the instruments with an active loop.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.loops))
	for name := range e.loops {
		out = append(out, name)
	}
	return out
}

func (e *Engine) loop(ctx context.Context, inst model.Instrument) {
	defer e.wg.Done()
	log := e.log.WithField("instrument", inst.Name)
	log.Debug("poll loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("poll loop stopped")
			return
		case <-timer.C:
		}

		class := e.classFor(inst.Name)
		if e.streamFresh(inst.Name, class) {
			metrics.PollSkips.WithLabelValues(inst.Name).Inc()
		} else {
			e.pollAndIngest(ctx, log, inst)
		}
		timer.Reset(e.Interval(inst, class))
	}
}

// streamFresh reports whether a hybrid instrument heard from the stream
// within its quiet window, in which case the poll is skipped.
func (e *Engine) streamFresh(name string, class instruments.Class) bool {
	if !class.Hybrid() {
		return false
	}
	last := e.sink.LastPush(name)
	if last.IsZero() {
		return false
	}
	return e.now().Sub(last) < class.QuietWindow
}

func (e *Engine) pollAndIngest(ctx context.Context, log *logrus.Entry, inst model.Instrument) {
	tick, err := e.PollOnce(ctx, inst)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		metrics.PollRequests.WithLabelValues(inst.Name, "error").Inc()
		log.WithError(err).Debug("poll failed")
	case tick == nil:
		metrics.PollRequests.WithLabelValues(inst.Name, "empty").Inc()
	default:
		if err := e.sink.Ingest(*tick); err != nil {
			metrics.PollRequests.WithLabelValues(inst.Name, "rejected").Inc()
			log.WithError(err).Trace("poll tick not stored")
			return
		}
		metrics.PollRequests.WithLabelValues(inst.Name, "ok").Inc()
	}
}

// PollOnce performs one rate-limited snapshot request. A nil tick with a
// nil error means the venue had no price.
func (e *Engine) PollOnce(ctx context.Context, inst model.Instrument) (*model.Tick, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	started := e.now()
	q, err := e.client.Snapshot(reqCtx, inst)
	if err != nil {
		return nil, err
	}
	if q == nil || q.LastPrice <= 0 {
		return nil, nil
	}
	return &model.Tick{
		Instrument:   inst.Name,
		Exchange:     inst.Exchange,
		Token:        inst.Token,
		LastPrice:    q.LastPrice,
		Bid:          q.Bid,
		Ask:          q.Ask,
		Volume:       q.Volume,
		OpenInterest: q.OpenInterest,
		Close:        q.Close,
		Open:         q.Open,
		High:         q.High,
		Low:          q.Low,
		ObservedAt:   started,
		Source:       model.SourcePoll,
	}, nil
}

// FetchNow polls name immediately, ignoring the quiet window.
func (e *Engine) FetchNow(ctx context.Context, name string) (model.Tick, error) {
	e.mu.Lock()
	inst, ok := e.tracked[name]
	e.mu.Unlock()
	if !ok {
		return model.Tick{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}

	tick, err := e.PollOnce(ctx, inst)
	if err != nil {
		metrics.PollRequests.WithLabelValues(name, "error").Inc()
		return model.Tick{}, err
	}
	if tick == nil {
		metrics.PollRequests.WithLabelValues(name, "empty").Inc()
		return model.Tick{}, fmt.Errorf("%w for %s", ErrNoData, name)
	}
	if err := e.sink.Ingest(*tick); err != nil {
		metrics.PollRequests.WithLabelValues(name, "rejected").Inc()
		return *tick, err
	}
	metrics.PollRequests.WithLabelValues(name, "ok").Inc()
	return *tick, nil
}

// Interval is the wait before the next poll of inst.
func (e *Engine) Interval(inst model.Instrument, class instruments.Class) time.Duration {
	base := class.PollInterval
	if base <= 0 {
		base = defaultClass.PollInterval
	}
	if e.calendar == nil {
		return base
	}
	session := e.calendar.SessionAt(inst.Exchange, e.now())
	return risk.PollIntervalForSession(base, session, e.sessionCfg)
}

func (e *Engine) classFor(name string) instruments.Class {
	if e.classes == nil {
		return defaultClass
	}
	if _, c, ok := e.classes.Lookup(name); ok {
		return c
	}
	return defaultClass
}
