package poller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RatePerSecond float64       `envconfig:"POLL_RATE_PER_SECOND" default:"10"`
	Burst         int           `envconfig:"POLL_BURST" default:"5"`
	Timeout       time.Duration `envconfig:"POLL_TIMEOUT" default:"3s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
