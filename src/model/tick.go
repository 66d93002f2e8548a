package model

import (
	"math"
	"time"
)

// Source is the ingestion path a tick came from.
type Source string

const (
	SourcePush Source = "PUSH"
	SourcePoll Source = "POLL"
)

// Freshness is computed at read time from the tick age.
type Freshness string

const (
	FreshnessWaiting Freshness = "WAITING"
	FreshnessLive    Freshness = "LIVE"
	FreshnessStale   Freshness = "STALE"
)

// Tick is the latest observed state of one instrument.
type Tick struct {
	Instrument   string    `json:"instrument"`
	Exchange     string    `json:"exchange,omitempty"`
	Token        string    `json:"token,omitempty"`
	LastPrice    float64   `json:"ltp"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Volume       float64   `json:"volume"`
	OpenInterest float64   `json:"open_interest"`
	Close        float64   `json:"close"`
	Open         float64   `json:"open,omitempty"`
	High         float64   `json:"high,omitempty"`
	Low          float64   `json:"low,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
	Source       Source    `json:"source,omitempty"`
	Freshness    Freshness `json:"freshness"`
}

// Valid reports whether the tick may be stored.
func (t Tick) Valid() bool {
	return t.Instrument != "" && t.LastPrice > 0 && !math.IsInf(t.LastPrice, 1)
}

// Age is the time elapsed since the tick was observed.
func (t Tick) Age(now time.Time) time.Duration {
	if t.ObservedAt.IsZero() {
		return 0
	}
	return now.Sub(t.ObservedAt)
}
