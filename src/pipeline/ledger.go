package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"livefeed/src/model"
)

// Ledger is the capped trade book. Beyond capacity the oldest trade is
// dropped whatever its status; its PnL stays in the day's total.
type Ledger struct {
	mu       sync.Mutex
	cap      int
	trades   []*model.Trade
	seq      map[model.ExecutionMode]int
	realized decimal.Decimal
	baseline decimal.Decimal
}

func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ledger{cap: capacity, seq: make(map[model.ExecutionMode]int)}
}

func tradePrefix(mode model.ExecutionMode) string {
	switch mode {
	case model.ModeSimulation:
		return "SIM"
	case model.ModePaper:
		return "PAPER"
	default:
		return string(mode)
	}
}

// Open books a new trade and returns a copy of it.
func (l *Ledger) Open(t model.Trade) model.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq[t.Mode]++
	t.ID = fmt.Sprintf("%s-%03d", tradePrefix(t.Mode), l.seq[t.Mode])
	t.Status = model.TradeStatusOpen
	t.CurrentPrice = t.EntryPrice
	t.PnL = decimal.Zero

	stored := t
	l.trades = append(l.trades, &stored)
	if over := len(l.trades) - l.cap; over > 0 {
		for _, old := range l.trades[:over] {
			l.realized = l.realized.Add(old.PnL)
		}
		l.trades = l.trades[over:]
	}
	return stored
}

func (l *Ledger) List() []model.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		out = append(out, *t)
	}
	return out
}

// Clear drops every trade. Their PnL still counts towards the day.
func (l *Ledger) Clear() {
	l.mu.Lock()
	for _, t := range l.trades {
		l.realized = l.realized.Add(t.PnL)
	}
	l.trades = nil
	l.mu.Unlock()
}

// Mark revalues open trades from prices and returns the day's PnL relative
// to the last baseline together with the notional still open.
func (l *Ledger) Mark(prices map[string]decimal.Decimal) (pnl, exposure decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.trades {
		if t.Status != model.TradeStatusOpen {
			continue
		}
		if p, ok := prices[t.Instrument]; ok && p.GreaterThan(decimal.Zero) {
			t.Revalue(p)
		}
	}
	return l.totalsLocked()
}

// Close settles every open trade accepted by closeFn at the given prices.
// Trades without a price close at their last mark.
func (l *Ledger) Close(prices map[string]decimal.Decimal, at time.Time, closeFn func(model.Trade) error) ([]model.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		closed []model.Trade
		errs   []error
	)
	for _, t := range l.trades {
		if t.Status != model.TradeStatusOpen {
			continue
		}
		if p, ok := prices[t.Instrument]; ok && p.GreaterThan(decimal.Zero) {
			t.Revalue(p)
		}
		if closeFn != nil {
			if err := closeFn(*t); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.ID, err))
				continue
			}
		}
		closedAt := at
		t.Status = model.TradeStatusClosed
		t.ClosedAt = &closedAt
		closed = append(closed, *t)
	}
	return closed, errors.Join(errs...)
}

// Rebase makes the current PnL the new zero point.
func (l *Ledger) Rebase() {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.realized
	for _, t := range l.trades {
		total = total.Add(t.PnL)
	}
	l.baseline = total
}

func (l *Ledger) Totals() (pnl, exposure decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalsLocked()
}

func (l *Ledger) totalsLocked() (pnl, exposure decimal.Decimal) {
	pnl, exposure = l.realized, decimal.Zero
	for _, t := range l.trades {
		pnl = pnl.Add(t.PnL)
		if t.Status == model.TradeStatusOpen {
			exposure = exposure.Add(t.CurrentPrice.Mul(decimal.NewFromInt(int64(t.Quantity))))
		}
	}
	return pnl.Sub(l.baseline), exposure
}
