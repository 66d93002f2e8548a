package instruments

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// TablePath overrides the embedded instrument-class table.
	TablePath      string        `envconfig:"INSTRUMENT_TABLE_PATH"`
	Instruments    []string      `envconfig:"INSTRUMENTS"`
	ResolveTimeout time.Duration `envconfig:"RESOLVE_TIMEOUT" default:"10s"`
	Timezone       string        `envconfig:"MARKET_TIMEZONE" default:"Asia/Kolkata"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
