package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionMode routes the Execution stage.
type ExecutionMode string

const (
	ModeMock       ExecutionMode = "MOCK"
	ModeSimulation ExecutionMode = "SIMULATION"
	ModePaper      ExecutionMode = "PAPER"
	ModeLive       ExecutionMode = "LIVE"
)

// ParseExecutionMode accepts the canonical names plus SIMULATED and REAL.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MOCK":
		return ModeMock, nil
	case "SIMULATION", "SIMULATED":
		return ModeSimulation, nil
	case "PAPER":
		return ModePaper, nil
	case "LIVE", "REAL":
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

type Trade struct {
	ID            string          `json:"id"`
	Instrument    string          `json:"instrument"`
	Direction     string          `json:"direction"`
	Lots          int             `json:"lots"`
	Quantity      int             `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PnL           decimal.Decimal `json:"pnl"`
	Status        TradeStatus     `json:"status"`
	Mode          ExecutionMode   `json:"mode"`
	Signal        string          `json:"signal,omitempty"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// Revalue moves the mark price and recomputes PnL for the trade direction.
func (t *Trade) Revalue(price decimal.Decimal) {
	t.CurrentPrice = price
	diff := price.Sub(t.EntryPrice)
	if t.Direction == DirectionShort {
		diff = diff.Neg()
	}
	t.PnL = diff.Mul(decimal.NewFromInt(int64(t.Quantity)))
}

// RiskMetrics is the shared capital state read by the Risk stage.
type RiskMetrics struct {
	TotalCapital        decimal.Decimal `json:"total_capital"`
	DailyPnL            decimal.Decimal `json:"daily_pnl"`
	UtilizationPct      decimal.Decimal `json:"utilization_pct"`
	MaxDailyLossPercent decimal.Decimal `json:"max_daily_loss_percent"`
	Blocked             bool            `json:"blocked"`
}
