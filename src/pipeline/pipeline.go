package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"livefeed/src/connectors"
	"livefeed/src/metrics"
	"livefeed/src/model"
	"livefeed/src/risk"
)

// ErrLiveUnavailable is returned when LIVE mode is requested without broker credentials.
var ErrLiveUnavailable = fmt.Errorf("%w: LIVE mode requires broker credentials", model.ErrAuthentication)

// Broker places real orders. connectors.RestClient satisfies it.
type Broker interface {
	HasCredentials() bool
	PlaceOrder(ctx context.Context, o connectors.OrderRequest) (string, error)
}

// InstrumentLookup supplies the resolved contract for an order.
type InstrumentLookup interface {
	Instrument(name string) (model.Instrument, bool)
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithDetector(d PatternDetector) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.detector = d
		}
	}
}

func WithBroker(b Broker) Option {
	return func(p *Pipeline) { p.broker = b }
}

func WithInstruments(l InstrumentLookup) Option {
	return func(p *Pipeline) { p.lookup = l }
}

// Result holds what each stage emitted for one tick. Risk and Execution are
// nil when an upstream gate did not approve.
type Result struct {
	Context    model.PipelineEvent
	Pattern    model.PipelineEvent
	Validation model.PipelineEvent
	Risk       *model.PipelineEvent
	Execution  *model.PipelineEvent
	Guidance   model.PipelineEvent
	Trade      *model.Trade
}

// Pipeline runs the decision stages for every accepted tick.
type Pipeline struct {
	log      *logrus.Entry
	cfg      Config
	book     *risk.Book
	trail    *AuditTrail
	ledger   *Ledger
	detector PatternDetector
	broker   Broker
	lookup   InstrumentLookup
	now      func() time.Time

	modeMu sync.RWMutex
	mode   model.ExecutionMode

	statusMu sync.Mutex
	statuses map[string]*model.AgentStatus
}

func New(logger *logrus.Entry, cfg Config, book *risk.Book, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if book == nil {
		return nil, errors.New("risk book is required")
	}
	cfg = cfg.withDefaults()
	mode := model.ModeSimulation
	if cfg.ExecutionMode != "" {
		m, err := model.ParseExecutionMode(cfg.ExecutionMode)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	p := &Pipeline{
		log:      logger.WithField("component", "pipeline"),
		cfg:      cfg,
		book:     book,
		trail:    NewAuditTrail(cfg.AuditCapacity),
		ledger:   NewLedger(cfg.TradeCapacity),
		detector: RangeBreakDetector{},
		now:      time.Now,
		mode:     mode,
		statuses: make(map[string]*model.AgentStatus, len(Agents)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, name := range Agents {
		p.statuses[name] = &model.AgentStatus{Name: name, Status: model.AgentStatusActive}
	}
	if mode == model.ModeLive && !p.liveReady() {
		p.log.WithFields(logrus.Fields{"severity": "critical", "mode": mode}).
			Error("LIVE mode configured without broker credentials, executions will be blocked")
	}
	return p, nil
}

// Listener adapts the pipeline to the feed's tick listener.
func (p *Pipeline) Listener(ctx context.Context) func(model.Tick) {
	return func(t model.Tick) {
		if !t.Valid() {
			return
		}
		p.Run(ctx, t)
	}
}

// Run pushes one tick through every stage. Context and Pattern always run;
// Validation, Risk and Execution form a gated chain. Guidance runs last
// regardless of the outcome.
func (p *Pipeline) Run(ctx context.Context, t model.Tick) Result {
	var res Result
	symbol := t.Instrument

	res.Context = p.stage(AgentContext, symbol, func() model.PipelineEvent {
		return AnalyzeContext(t, p.now())
	})
	res.Pattern = p.stage(AgentPattern, symbol, func() model.PipelineEvent {
		return DetectPattern(p.detector, t, p.now())
	})
	res.Validation = p.stage(AgentValidation, symbol, func() model.PipelineEvent {
		return Validate(symbol, res.Context, res.Pattern, p.now())
	})

	if res.Validation.Approved() {
		riskEv := p.stage(AgentRisk, symbol, func() model.PipelineEvent {
			return p.checkRisk(t)
		})
		res.Risk = &riskEv

		if riskEv.Approved() {
			signal := res.Pattern.String("pattern")
			execEv := p.stage(AgentExecution, symbol, func() model.PipelineEvent {
				ev, trade := p.execute(ctx, t, signal)
				res.Trade = trade
				return ev
			})
			res.Execution = &execEv
		}
	}

	res.Guidance = p.stage(AgentGuidance, "GLOBAL", func() model.PipelineEvent {
		return Advise(p.trail.Recent(p.cfg.GuidanceWindow), p.now())
	})
	return res
}

// stage runs fn, turning a panic into a REJECTED event, and records the result.
func (p *Pipeline) stage(agent, symbol string, fn func() model.PipelineEvent) (ev model.PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"agent": agent, "instrument": symbol}).
				Errorf("stage panicked: %v", r)
			ev = model.NewPipelineEvent(agent, symbol, p.now(), model.DecisionRejected, 0,
				fmt.Sprintf("stage failed: %v", r), nil, nil)
		}
		p.record(ev)
	}()
	return fn()
}

func (p *Pipeline) record(ev model.PipelineEvent) {
	p.trail.Append(ev)
	metrics.PipelineDecisions.WithLabelValues(ev.Agent, string(ev.Decision)).Inc()

	at := ev.Timestamp
	p.statusMu.Lock()
	if s, ok := p.statuses[ev.Agent]; ok {
		s.LastDecision = ev.Decision
		s.LastRun = &at
		s.Runs++
	}
	p.statusMu.Unlock()

	p.log.WithFields(logrus.Fields{
		"agent":      ev.Agent,
		"instrument": ev.Symbol,
		"decision":   ev.Decision,
		"confidence": ev.Confidence,
	}).Debug(ev.Reason)
}

// ----- risk -----

func (p *Pipeline) checkRisk(t model.Tick) model.PipelineEvent {
	res := p.book.Check(decimal.NewFromFloat(t.LastPrice), 1)
	limitPct := p.book.Metrics().MaxDailyLossPercent

	if res.Tripped {
		p.log.WithFields(logrus.Fields{
			"instrument": t.Instrument,
			"daily_pnl":  res.DailyPnL.String(),
			"loss_limit": res.LossLimit.String(),
		}).Warn("daily loss limit reached, trading blocked")
	}

	decision, condition := model.DecisionApproved, "Nominal"
	if !res.Allowed {
		decision, condition = model.DecisionRejected, "Critical"
		p.setStatus(AgentRisk, model.AgentStatusBlocked)
	}

	return model.NewPipelineEvent(AgentRisk, t.Instrument, p.now(), decision, 100, res.Reason,
		map[string]any{
			"daily_pnl":         res.DailyPnL.InexactFloat64(),
			"capital_limit_pct": limitPct.InexactFloat64(),
			"utilization_pct":   res.UtilizationPct.InexactFloat64(),
			"risk_condition":    condition,
		},
		map[string]any{
			"lot_size":   1,
			"allowed":    res.Allowed,
			"reason":     res.Reason,
			"loss_limit": res.LossLimit.InexactFloat64(),
		},
	)
}

// ----- execution -----

func (p *Pipeline) execute(ctx context.Context, t model.Tick, signal string) (model.PipelineEvent, *model.Trade) {
	mode := p.Mode()
	now := p.now()
	log := p.log.WithFields(logrus.Fields{"instrument": t.Instrument, "mode": mode})
	entry := decimal.NewFromFloat(t.LastPrice)
	ctxFields := map[string]any{"mode": string(mode), "signal": signal}

	switch mode {
	case model.ModeMock:
		log.Info("mock execution, signal logged without a position")
		return model.NewPipelineEvent(AgentExecution, t.Instrument, now, model.DecisionNeutral, 100,
			"Mock mode: signal logged, no position opened.", ctxFields,
			map[string]any{"entry": t.LastPrice, "status": "LOGGED", "mode": string(mode)},
		), nil

	case model.ModeLive:
		if !p.liveReady() {
			log.WithField("severity", "critical").Error("LIVE execution blocked: broker credentials unavailable")
			return model.NewPipelineEvent(AgentExecution, t.Instrument, now, model.DecisionRejected, 100,
				"LIVE execution blocked: broker credentials unavailable.", ctxFields,
				map[string]any{"entry": t.LastPrice, "status": "BLOCKED", "mode": string(mode)},
			), nil
		}
		orderID, err := p.broker.PlaceOrder(ctx, connectors.OrderRequest{
			Instrument: p.instrumentFor(t),
			Side:       "BUY",
			Quantity:   p.cfg.LotQuantity,
			Price:      t.LastPrice,
		})
		if err != nil {
			log.WithError(err).Error("live order failed")
			return model.NewPipelineEvent(AgentExecution, t.Instrument, now, model.DecisionRejected, 100,
				fmt.Sprintf("Order rejected by broker: %v", err), ctxFields,
				map[string]any{"entry": t.LastPrice, "status": "FAILED", "mode": string(mode)},
			), nil
		}
		trade := p.open(t, mode, signal, entry, orderID, now)
		log.WithFields(logrus.Fields{"trade_id": trade.ID, "order_id": orderID}).Info("live order placed")
		return p.fillEvent(trade, ctxFields), &trade

	default:
		trade := p.open(t, mode, signal, entry, "", now)
		log.WithField("trade_id", trade.ID).Info("synthetic fill booked")
		return p.fillEvent(trade, ctxFields), &trade
	}
}

func (p *Pipeline) open(t model.Tick, mode model.ExecutionMode, signal string, entry decimal.Decimal, orderID string, at time.Time) model.Trade {
	trade := p.ledger.Open(model.Trade{
		Instrument:    t.Instrument,
		Direction:     model.DirectionLong,
		Lots:          1,
		Quantity:      p.cfg.LotQuantity,
		EntryPrice:    entry,
		Mode:          mode,
		Signal:        signal,
		BrokerOrderID: orderID,
		OpenedAt:      at,
	})
	_, exposure := p.ledger.Totals()
	p.book.SetExposure(exposure)
	return trade
}

func (p *Pipeline) fillEvent(trade model.Trade, ctxFields map[string]any) model.PipelineEvent {
	reason := fmt.Sprintf("%s %s filled at %s (%d lot x %d).",
		trade.Direction, trade.Instrument, trade.EntryPrice.StringFixed(2), trade.Lots, trade.Quantity)
	return model.NewPipelineEvent(AgentExecution, trade.Instrument, trade.OpenedAt, model.DecisionApproved, 100, reason, ctxFields,
		map[string]any{
			"trade_id": trade.ID,
			"entry":    trade.EntryPrice.InexactFloat64(),
			"signal":   trade.Signal,
			"status":   string(trade.Status),
			"mode":     string(trade.Mode),
		},
	)
}

func (p *Pipeline) instrumentFor(t model.Tick) model.Instrument {
	if p.lookup != nil {
		if inst, ok := p.lookup.Instrument(t.Instrument); ok {
			return inst
		}
	}
	return model.Instrument{Name: t.Instrument, Exchange: t.Exchange, Token: t.Token}
}

func (p *Pipeline) liveReady() bool {
	return p.broker != nil && p.broker.HasCredentials()
}

// ----- control -----

func (p *Pipeline) Mode() model.ExecutionMode {
	p.modeMu.RLock()
	defer p.modeMu.RUnlock()
	return p.mode
}

// SetMode switches execution mode. A real switch clears the trade ledger so
// positions from one mode never leak into another.
func (p *Pipeline) SetMode(mode model.ExecutionMode) error {
	if _, err := model.ParseExecutionMode(string(mode)); err != nil {
		return err
	}
	if mode == model.ModeLive && !p.liveReady() {
		p.log.WithFields(logrus.Fields{"severity": "critical", "mode": mode}).
			Error("refusing LIVE mode without broker credentials")
		return ErrLiveUnavailable
	}

	p.modeMu.Lock()
	old := p.mode
	p.mode = mode
	p.modeMu.Unlock()
	if old == mode {
		return nil
	}

	p.ledger.Clear()
	p.book.SetExposure(decimal.Zero)
	p.log.WithFields(logrus.Fields{"from": old, "to": mode}).Info("execution mode switched, positions cleared")
	return nil
}

// ResetRisk lifts the daily loss block and starts the PnL count from zero.
func (p *Pipeline) ResetRisk() model.RiskMetrics {
	p.book.Reset()
	p.ledger.Rebase()
	p.setStatus(AgentRisk, model.AgentStatusActive)
	p.log.Info("risk metrics reset")
	return p.book.Metrics()
}

// Revalue marks open trades against the latest snapshots and updates the
// risk book.
func (p *Pipeline) Revalue(snapshots map[string]model.Tick) model.RiskMetrics {
	pnl, exposure := p.ledger.Mark(pricesOf(snapshots))
	p.book.SetDailyPnL(pnl)
	p.book.SetExposure(exposure)
	return p.book.Metrics()
}

// SquareOffAll closes every open trade at the latest snapshot price. LIVE
// trades are closed with an opposing order first; a failed order leaves
// that trade open.
func (p *Pipeline) SquareOffAll(ctx context.Context, snapshots map[string]model.Tick) ([]model.Trade, error) {
	closeFn := func(t model.Trade) error {
		if t.Mode != model.ModeLive {
			return nil
		}
		if !p.liveReady() {
			return ErrLiveUnavailable
		}
		_, err := p.broker.PlaceOrder(ctx, connectors.OrderRequest{
			Instrument: p.instrumentFor(model.Tick{Instrument: t.Instrument}),
			Side:       "SELL",
			Quantity:   t.Quantity,
			Price:      t.CurrentPrice.InexactFloat64(),
		})
		return err
	}

	closed, err := p.ledger.Close(pricesOf(snapshots), p.now(), closeFn)
	pnl, exposure := p.ledger.Totals()
	p.book.SetDailyPnL(pnl)
	p.book.SetExposure(exposure)

	p.log.WithField("closed", len(closed)).Info("square off complete")
	if err != nil {
		p.log.WithError(err).Error("square off left trades open")
	}
	return closed, err
}

func (p *Pipeline) Trades() []model.Trade {
	return p.ledger.List()
}

func (p *Pipeline) RiskMetrics() model.RiskMetrics {
	return p.book.Metrics()
}

// AuditTrail returns up to limit of the newest events, oldest first.
func (p *Pipeline) AuditTrail(limit int) []model.PipelineEvent {
	return p.trail.Recent(limit)
}

func (p *Pipeline) AgentStatuses() []model.AgentStatus {
	blocked := p.book.Blocked()
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	out := make([]model.AgentStatus, 0, len(Agents))
	for _, name := range Agents {
		s := *p.statuses[name]
		if name == AgentRisk && blocked {
			s.Status = model.AgentStatusBlocked
		}
		out = append(out, s)
	}
	return out
}

func (p *Pipeline) setStatus(agent, status string) {
	p.statusMu.Lock()
	if s, ok := p.statuses[agent]; ok {
		s.Status = status
	}
	p.statusMu.Unlock()
}

func pricesOf(snapshots map[string]model.Tick) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(snapshots))
	for name, t := range snapshots {
		if t.Valid() {
			out[name] = decimal.NewFromFloat(t.LastPrice)
		}
	}
	return out
}
