package model

import (
	"fmt"
	"time"

	"livefeed/src/utils"
)

// ResolutionStrategy names the lookup that produced an Instrument.
type ResolutionStrategy string

const (
	ResolvedByReference ResolutionStrategy = "reference"
	ResolvedByGeneric   ResolutionStrategy = "generic"
	ResolvedByStatic    ResolutionStrategy = "static"
)

// Instrument is a logical name bound to a venue identifier. It is immutable
// once resolved and is only replaced after its expiry lapses.
type Instrument struct {
	Name          string             `json:"name"`
	Exchange      string             `json:"exchange"`
	Token         string             `json:"token"`
	TradingSymbol string             `json:"trading_symbol,omitempty"`
	LotSize       int                `json:"lot_size,omitempty"`
	Expiry        *time.Time         `json:"expiry,omitempty"`
	ResolvedBy    ResolutionStrategy `json:"resolved_by"`
	ResolvedAt    time.Time          `json:"resolved_at"`
}

// Key is the exchange|token pair used on the wire.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s|%s", i.Exchange, i.Token)
}

// Expired reports whether the contract's expiry day is strictly before the
// day of now, both taken in loc. Instruments without expiry never expire.
func (i Instrument) Expired(now time.Time, loc *time.Location) bool {
	if i.Expiry == nil {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	expiryDay := utils.ResetTime(i.Expiry.In(loc), "day")
	return expiryDay.Before(utils.ResetTime(now.In(loc), "day"))
}

// ExpiryLabel renders the expiry as YYYY-MM-DD, or "" for perpetual instruments.
func (i Instrument) ExpiryLabel() string {
	if i.Expiry == nil {
		return ""
	}
	return i.Expiry.Format("2006-01-02")
}
