package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"livefeed/src/model"
)

var hundred = decimal.NewFromInt(100)

// Book holds the capital state shared by the Risk and Execution stages.
// Once the daily loss limit trips, the book stays blocked until Reset.
type Book struct {
	mu            sync.Mutex
	totalCapital  decimal.Decimal
	maxLossPct    decimal.Decimal
	dailyPnL      decimal.Decimal
	utilization   decimal.Decimal
	blocked       bool
	blockedReason string
}

type CheckResult struct {
	Allowed        bool
	Tripped        bool
	Reason         string
	DailyPnL       decimal.Decimal
	LossLimit      decimal.Decimal
	UtilizationPct decimal.Decimal
}

func NewBook(totalCapital, maxDailyLossPct decimal.Decimal) *Book {
	if totalCapital.LessThanOrEqual(decimal.Zero) {
		totalCapital = decimal.NewFromInt(100000)
	}
	if maxDailyLossPct.LessThanOrEqual(decimal.Zero) {
		maxDailyLossPct = decimal.NewFromInt(1)
	}
	return &Book{totalCapital: totalCapital, maxLossPct: maxDailyLossPct}
}

// Check evaluates the daily loss breaker and the capital a lot at ltp would use.
func (b *Book) Check(ltp decimal.Decimal, lots int) CheckResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.totalCapital.Mul(b.maxLossPct).Div(hundred)
	res := CheckResult{
		Allowed:        true,
		Reason:         "Risk checks passed.",
		DailyPnL:       b.dailyPnL,
		LossLimit:      limit,
		UtilizationPct: ltp.Mul(decimal.NewFromInt(int64(lots))).Div(b.totalCapital).Mul(hundred).Round(2),
	}

	if !b.blocked && b.dailyPnL.LessThan(limit.Neg()) {
		b.blocked = true
		b.blockedReason = fmt.Sprintf("Daily loss limit (%s%%) reached. Trading suspended.", b.maxLossPct.String())
		res.Tripped = true
	}
	if b.blocked {
		res.Allowed = false
		res.Reason = b.blockedReason
	}
	return res
}

func (b *Book) SetDailyPnL(pnl decimal.Decimal) {
	b.mu.Lock()
	b.dailyPnL = pnl
	b.mu.Unlock()
}

// SetExposure records the notional of open positions as a share of capital.
func (b *Book) SetExposure(notional decimal.Decimal) {
	b.mu.Lock()
	b.utilization = notional.Div(b.totalCapital).Mul(hundred).Round(2)
	b.mu.Unlock()
}

func (b *Book) Blocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked
}

// Reset clears the breaker and the day's PnL.
func (b *Book) Reset() {
	b.mu.Lock()
	b.blocked = false
	b.blockedReason = ""
	b.dailyPnL = decimal.Zero
	b.mu.Unlock()
}

func (b *Book) Metrics() model.RiskMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.RiskMetrics{
		TotalCapital:        b.totalCapital,
		DailyPnL:            b.dailyPnL,
		UtilizationPct:      b.utilization,
		MaxDailyLossPercent: b.maxLossPct,
		Blocked:             b.blocked,
	}
}
