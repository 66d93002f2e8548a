package contracts

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Exchanges    []string `envconfig:"CONTRACT_EXCHANGES" default:"NSE,NFO,MCX"`
	PruneExpired bool     `envconfig:"CONTRACT_PRUNE_EXPIRED" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
