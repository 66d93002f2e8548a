package feed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Backoff           []time.Duration `envconfig:"RECONNECT_BACKOFF" default:"1s,2s,5s,10s,30s"`
	MaxAttempts       int             `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"50"`
	StaleAfter        time.Duration   `envconfig:"STALE_AFTER" default:"15s"`
	DispatchQueueSize int             `envconfig:"DISPATCH_QUEUE_SIZE" default:"64"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Delay returns the wait before reconnect attempt n (1-based); the last
// step of the schedule repeats.
func (c Config) Delay(n int) time.Duration {
	if len(c.Backoff) == 0 {
		return time.Second
	}
	if n < 1 {
		n = 1
	}
	if n > len(c.Backoff) {
		n = len(c.Backoff)
	}
	return c.Backoff[n-1]
}
