package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	TotalCapital         decimal.Decimal `envconfig:"TOTAL_CAPITAL" default:"100000"`
	MaxDailyLossPercent  decimal.Decimal `envconfig:"MAX_DAILY_LOSS_PERCENT" default:"1.0"`
	MarketTimezone       string          `envconfig:"MARKET_TIMEZONE" default:"Asia/Kolkata"`
	MarketHolidays       []string        `envconfig:"MARKET_HOLIDAYS"`
	ClosedPollMultiplier decimal.Decimal `envconfig:"CLOSED_POLL_MULTIPLIER" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// PollConfig maps the env multiplier onto both closed-market sessions.
func (c Config) PollConfig() SessionPollConfig {
	cfg := DefaultSessionPollConfig()
	if c.ClosedPollMultiplier.GreaterThan(decimal.Zero) {
		cfg.ClosedMultiplier = c.ClosedPollMultiplier
		cfg.WeekendHolidayMultiplier = c.ClosedPollMultiplier
	}
	return cfg
}
