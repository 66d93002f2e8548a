package model

import "time"

type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
)

// ConnectionStatus is the queryable view of the streaming session.
type ConnectionStatus struct {
	State       ConnectionState   `json:"state"`
	LastUpdate  *time.Time        `json:"last_update,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Attempts    int               `json:"reconnect_attempts"`
	GaveUp      bool              `json:"gave_up"`
	Protocol    string            `json:"protocol"`
	CacheSize   int               `json:"cache_size"`
	Instruments []string          `json:"instruments"`
	Excluded    map[string]string `json:"excluded,omitempty"`
	ExpiryMap   map[string]string `json:"expiry_map"`
}
