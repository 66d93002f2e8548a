package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"livefeed/src/connectors"
	"livefeed/src/dispatch"
	"livefeed/src/marketcache"
	"livefeed/src/metrics"
	"livefeed/src/model"
)

var (
	ErrAlreadyRunning = errors.New("feed already running")
	ErrNotRunning     = errors.New("feed not running")
	errStopped        = errors.New("feed stopped")
)

var allStates = []string{
	string(model.StateDisconnected),
	string(model.StateConnecting),
	string(model.StateConnected),
	string(model.StateReconnecting),
}

// Dialer opens authenticated streaming sessions.
type Dialer interface {
	Connect(ctx context.Context) (connectors.StreamConn, error)
	Protocol() connectors.ProtocolVersion
}

// StaleFunc gives the freshness threshold for an instrument; zero means the default.
type StaleFunc func(name string) time.Duration

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func WithStaleFunc(fn StaleFunc) Option {
	return func(m *Manager) { m.staleFor = fn }
}

// session is one Start..Stop lifetime of the receive loop.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the streaming connection, the market cache and tick
// dispatch. Pollers feed it through Ingest.
type Manager struct {
	log      *logrus.Entry
	cfg      Config
	dialer   Dialer
	cache    *marketcache.Cache
	dispatch *dispatch.Dispatcher
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	staleFor StaleFunc

	mu          sync.Mutex
	state       model.ConnectionState
	lastUpdate  time.Time
	lastError   string
	attempts    int
	gaveUp      bool
	stopping    bool
	parent      context.Context
	sess        *session
	conn        connectors.StreamConn
	instruments map[string]model.Instrument
	byKey       map[string]string
	byToken     map[string]string
	excluded    map[string]string
	onRemove    []func(name string)
}

func NewManager(logger *logrus.Entry, cfg Config, dialer Dialer, opts ...Option) *Manager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}
	}
	m := &Manager{
		log:         logger.WithField("component", "feed"),
		cfg:         cfg,
		dialer:      dialer,
		now:         time.Now,
		sleep:       sleepCtx,
		state:       model.StateDisconnected,
		instruments: make(map[string]model.Instrument),
		byKey:       make(map[string]string),
		byToken:     make(map[string]string),
		excluded:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = marketcache.New(cfg.StaleAfter, marketcache.WithClock(m.now))
	m.dispatch = dispatch.New(m.log, cfg.DispatchQueueSize)
	metrics.SetConnectionState(string(m.state), allStates...)
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RegisterListener adds a consumer of accepted ticks. Listeners run off the
// ingestion path, one lane per instrument.
func (m *Manager) RegisterListener(fn dispatch.Listener) {
	m.dispatch.Subscribe(fn)
}

// OnInstrumentRemoved is called when an instrument is unsubscribed or
// excluded after a subscription failure.
func (m *Manager) OnInstrumentRemoved(fn func(name string)) {
	m.mu.Lock()
	m.onRemove = append(m.onRemove, fn)
	m.mu.Unlock()
}

// Start registers the instruments and launches the receive loop. It
// returns once the loop is running; progress is visible through Status.
func (m *Manager) Start(ctx context.Context, instruments []model.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return ErrAlreadyRunning
	}

	m.cache.Clear()
	m.instruments = make(map[string]model.Instrument, len(instruments))
	m.byKey = make(map[string]string, len(instruments))
	m.byToken = make(map[string]string, len(instruments))
	m.excluded = make(map[string]string)
	for _, inst := range instruments {
		m.trackLocked(inst)
	}

	m.parent = ctx
	m.stopping = false
	m.gaveUp = false
	m.attempts = 0
	m.lastError = ""
	m.startSessionLocked()
	return nil
}

func (m *Manager) startSessionLocked() {
	ctx, cancel := context.WithCancel(m.parent)
	s := &session{cancel: cancel, done: make(chan struct{})}
	m.sess = s
	m.setStateLocked(model.StateConnecting)
	go m.run(ctx, s)
}

// Stop ends the session. It is idempotent and wins over any pending
// reconnect attempt.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.sess
	m.stopping = true
	conn := m.conn
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-s.done

	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.conn = nil
	m.setStateLocked(model.StateDisconnected)
	m.mu.Unlock()
	m.log.Info("feed stopped")
}

// Reconnect tears the current session down and starts a fresh one with the
// full instrument list. It is the way out of an authentication failure or
// an exhausted retry budget.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	started := m.parent != nil
	m.mu.Unlock()
	if !started {
		return ErrNotRunning
	}

	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return ErrAlreadyRunning
	}
	m.stopping = false
	m.gaveUp = false
	m.attempts = 0
	m.lastError = ""
	m.startSessionLocked()
	m.log.Info("operator reconnect")
	return nil
}

// Close stops the session and drains the dispatcher.
func (m *Manager) Close() {
	m.Stop()
	m.dispatch.Close()
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)
	failures := 0

	for {
		if m.isStopping() || ctx.Err() != nil {
			return
		}

		err := m.connectAndStream(ctx)
		if m.isStopping() || ctx.Err() != nil {
			return
		}

		// a session that reached CONNECTED starts a fresh retry budget
		if m.wasConnected() {
			failures = 0
		}
		failures++
		m.recordError(err, failures)

		if errors.Is(err, model.ErrAuthentication) {
			m.log.WithError(err).WithField("severity", "critical").Error("authentication failed, waiting for explicit reconnect")
			m.settle(s, false)
			return
		}
		if failures > m.cfg.MaxAttempts {
			m.log.WithError(err).WithFields(logrus.Fields{
				"attempts": failures - 1,
				"severity": "critical",
			}).Error("reconnect attempts exhausted, gave up")
			m.settle(s, true)
			return
		}

		delay := m.cfg.Delay(failures)
		m.mu.Lock()
		m.setStateLocked(model.StateReconnecting)
		m.mu.Unlock()
		m.log.WithError(err).WithFields(logrus.Fields{
			"attempt": failures,
			"delay":   delay.String(),
		}).Warn("stream lost, reconnecting")

		if err := m.sleep(ctx, delay); err != nil {
			return
		}
		metrics.ReconnectAttempts.Inc()
	}
}

// settle leaves the session in DISCONNECTED without requiring Stop.
func (m *Manager) settle(s *session, gaveUp bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaveUp = gaveUp
	if m.sess == s {
		m.sess = nil
	}
	m.conn = nil
	m.setStateLocked(model.StateDisconnected)
}

func (m *Manager) connectAndStream(ctx context.Context) error {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()

	conn, err := m.dialer.Connect(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		_ = conn.Close()
		return errStopped
	}
	m.conn = conn
	instruments := m.instrumentsLocked()
	m.mu.Unlock()

	failed, err := conn.Subscribe(ctx, instruments)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	for name, ferr := range failed {
		m.exclude(name, ferr)
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		_ = conn.Close()
		return errStopped
	}
	m.attempts = 0
	m.lastError = ""
	m.setStateLocked(model.StateConnected)
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{
		"instruments": len(instruments) - len(failed),
		"protocol":    m.dialer.Protocol().String(),
	}).Info("stream connected")

	for {
		raw, err := conn.Read()
		if err != nil {
			_ = conn.Close()
			return err
		}
		m.handleFrame(raw)
	}
}

func (m *Manager) handleFrame(raw []byte) {
	f, err := connectors.ParseTickFrame(raw)
	if err != nil {
		metrics.FramesDropped.Inc()
		return
	}

	m.mu.Lock()
	name, ok := m.byKey[f.Exchange+"|"+string(f.Token)]
	if !ok {
		name, ok = m.byToken[string(f.Token)]
	}
	m.mu.Unlock()
	if !ok {
		metrics.FramesDropped.Inc()
		return
	}

	tick, _ := m.cache.Get(name)
	tick.Instrument = name
	f.ApplyTo(&tick)
	tick.Source = model.SourcePush
	tick.ObservedAt = m.now()
	_ = m.Ingest(tick)
}

// Ingest writes a tick into the cache and, if accepted, dispatches it.
func (m *Manager) Ingest(t model.Tick) error {
	if t.ObservedAt.IsZero() {
		t.ObservedAt = m.now()
	}
	if err := m.cache.Upsert(t); err != nil {
		metrics.TicksRejected.WithLabelValues(t.Instrument, rejectReason(err)).Inc()
		return err
	}
	metrics.TicksAccepted.WithLabelValues(t.Instrument, string(t.Source)).Inc()

	m.mu.Lock()
	if t.ObservedAt.After(m.lastUpdate) {
		m.lastUpdate = t.ObservedAt
	}
	m.mu.Unlock()

	t.Freshness = model.FreshnessLive
	m.dispatch.Publish(t)
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, marketcache.ErrInvalidTick):
		return "invalid"
	case errors.Is(err, marketcache.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, marketcache.ErrSuperseded):
		return "superseded"
	default:
		return "other"
	}
}

// SubscribeInstrument adds an instrument to a running feed.
func (m *Manager) SubscribeInstrument(ctx context.Context, inst model.Instrument) error {
	if inst.Name == "" || inst.Token == "" {
		return fmt.Errorf("%w: instrument needs a name and token", model.ErrSubscription)
	}
	m.mu.Lock()
	m.trackLocked(inst)
	delete(m.excluded, inst.Name)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	failed, err := conn.Subscribe(ctx, []model.Instrument{inst})
	if err != nil {
		return err
	}
	if ferr, ok := failed[inst.Name]; ok {
		m.exclude(inst.Name, ferr)
		return ferr
	}
	return nil
}

// UnsubscribeInstrument drops an instrument and its cache entry.
func (m *Manager) UnsubscribeInstrument(ctx context.Context, name string) error {
	m.mu.Lock()
	inst, ok := m.instruments[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: instrument %s is not tracked", model.ErrSubscription, name)
	}
	m.untrackLocked(inst)
	conn := m.conn
	hooks := append([]func(string){}, m.onRemove...)
	m.mu.Unlock()

	m.cache.Remove(name)
	for _, fn := range hooks {
		fn(name)
	}
	if conn != nil {
		return conn.Unsubscribe(ctx, []model.Instrument{inst})
	}
	return nil
}

func (m *Manager) exclude(name string, cause error) {
	m.mu.Lock()
	inst, ok := m.instruments[name]
	if ok {
		m.untrackLocked(inst)
	}
	m.excluded[name] = cause.Error()
	hooks := append([]func(string){}, m.onRemove...)
	m.mu.Unlock()

	m.cache.Remove(name)
	m.log.WithError(cause).WithField("instrument", name).Warn("instrument excluded from stream")
	for _, fn := range hooks {
		fn(name)
	}
}

// Exclude records an instrument that never made it into the feed, e.g. a
// resolution failure, so it shows up in Status.
func (m *Manager) Exclude(name string, cause error) {
	m.exclude(name, cause)
}

func (m *Manager) trackLocked(inst model.Instrument) {
	m.instruments[inst.Name] = inst
	m.byKey[inst.Key()] = inst.Name
	m.byToken[inst.Token] = inst.Name
	var stale time.Duration
	if m.staleFor != nil {
		stale = m.staleFor(inst.Name)
	}
	m.cache.Register(inst.Name, stale)
}

func (m *Manager) untrackLocked(inst model.Instrument) {
	delete(m.instruments, inst.Name)
	delete(m.byKey, inst.Key())
	if m.byToken[inst.Token] == inst.Name {
		delete(m.byToken, inst.Token)
	}
}

func (m *Manager) instrumentsLocked() []model.Instrument {
	out := make([]model.Instrument, 0, len(m.instruments))
	for _, inst := range m.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Instruments lists the tracked instruments by name.
func (m *Manager) Instruments() []model.Instrument {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instrumentsLocked()
}

func (m *Manager) Instrument(name string) (model.Instrument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[name]
	return inst, ok
}

func (m *Manager) Snapshot(name string) (model.Tick, bool) {
	return m.cache.Get(name)
}

func (m *Manager) Snapshots() map[string]model.Tick {
	return m.cache.Snapshot()
}

// LastPush is when the stream last delivered a tick for name.
func (m *Manager) LastPush(name string) time.Time {
	return m.cache.LastPush(name)
}

func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Status() model.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := model.ConnectionStatus{
		State:     m.state,
		LastError: m.lastError,
		Attempts:  m.attempts,
		GaveUp:    m.gaveUp,
		CacheSize: m.cache.Len(),
		Excluded:  make(map[string]string, len(m.excluded)),
		ExpiryMap: make(map[string]string, len(m.instruments)),
	}
	if m.dialer != nil {
		st.Protocol = m.dialer.Protocol().String()
	}
	if !m.lastUpdate.IsZero() {
		lu := m.lastUpdate
		st.LastUpdate = &lu
	}
	for name, inst := range m.instruments {
		st.Instruments = append(st.Instruments, name)
		st.ExpiryMap[name] = inst.ExpiryLabel()
	}
	sort.Strings(st.Instruments)
	for k, v := range m.excluded {
		st.Excluded[k] = v
	}
	return st
}

func (m *Manager) isStopping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

func (m *Manager) wasConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == model.StateConnected
}

func (m *Manager) recordError(err error, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastError = err.Error()
	}
	m.attempts = failures - 1
}

func (m *Manager) setStateLocked(s model.ConnectionState) {
	if m.state == s {
		return
	}
	m.log.WithFields(logrus.Fields{"from": m.state, "state": s}).Debug("connection state")
	m.state = s
	metrics.SetConnectionState(string(s), allStates...)
}
