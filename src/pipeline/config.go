package pipeline

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ExecutionMode  string `envconfig:"EXECUTION_MODE" default:"SIMULATION"`
	LotQuantity    int    `envconfig:"EXECUTION_LOT_QUANTITY" default:"50"`
	AuditCapacity  int    `envconfig:"AUDIT_CAPACITY" default:"500"`
	TradeCapacity  int    `envconfig:"TRADE_CAPACITY" default:"50"`
	GuidanceWindow int    `envconfig:"GUIDANCE_WINDOW" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) withDefaults() Config {
	if c.LotQuantity <= 0 {
		c.LotQuantity = 50
	}
	if c.AuditCapacity <= 0 {
		c.AuditCapacity = 500
	}
	if c.TradeCapacity <= 0 {
		c.TradeCapacity = 50
	}
	if c.GuidanceWindow <= 0 {
		c.GuidanceWindow = 10
	}
	return c
}
