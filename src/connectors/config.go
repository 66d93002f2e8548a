package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	UserID    string `envconfig:"VENUE_USER_ID"`
	SessionID string `envconfig:"VENUE_SESSION_ID"`
	Protocol  string `envconfig:"VENUE_PROTOCOL" default:"v1"`

	WSURL       string `envconfig:"VENUE_WS_URL" default:"wss://ws1.aliceblueonline.com/NorenWS/"`
	RESTURL     string `envconfig:"VENUE_REST_URL" default:"https://ant.aliceblueonline.com/rest/AliceBlueAPIService/api"`
	ContractURL string `envconfig:"VENUE_CONTRACT_URL" default:"https://v2api.aliceblueonline.com/restpy/contract_master"`

	HandshakeTimeout time.Duration `envconfig:"VENUE_HANDSHAKE_TIMEOUT" default:"15s"`
	AuthTimeout      time.Duration `envconfig:"VENUE_AUTH_TIMEOUT" default:"10s"`
	PingPeriod       time.Duration `envconfig:"VENUE_PING_PERIOD" default:"15s"`
	ReadTimeout      time.Duration `envconfig:"VENUE_READ_TIMEOUT" default:"30s"`
	RESTTimeout      time.Duration `envconfig:"VENUE_REST_TIMEOUT" default:"15s"`
	RetryAttempts    int           `envconfig:"VENUE_RETRY_ATTEMPTS" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// HasCredentials reports whether a venue session is available.
func (c Config) HasCredentials() bool {
	return c.UserID != "" && c.SessionID != ""
}
