package risk

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ----- session labels -----

type Session string

const (
	SessionOpen           Session = "open"
	SessionClosed         Session = "closed"
	SessionWeekendHoliday Session = "weekend_holiday"
)

// TradingHours is the continuous session of an exchange in venue local time.
type TradingHours struct {
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// DefaultTradingHours covers the exchanges the feed subscribes to.
var DefaultTradingHours = map[string]TradingHours{
	"MCX": {OpenHour: 9, OpenMin: 0, CloseHour: 23, CloseMin: 30},
	"NSE": {OpenHour: 9, OpenMin: 15, CloseHour: 15, CloseMin: 30},
	"BSE": {OpenHour: 9, OpenMin: 15, CloseHour: 15, CloseMin: 30},
}

// ----- config for multipliers -----

type SessionPollConfig struct {
	OpenMultiplier           decimal.Decimal
	ClosedMultiplier         decimal.Decimal
	WeekendHolidayMultiplier decimal.Decimal
}

// DefaultSessionPollConfig polls ten times slower while the market is shut.
func DefaultSessionPollConfig() SessionPollConfig {
	return SessionPollConfig{
		OpenMultiplier:           decimal.NewFromInt(1),
		ClosedMultiplier:         decimal.NewFromInt(10),
		WeekendHolidayMultiplier: decimal.NewFromInt(10),
	}
}

// Calendar answers whether an exchange is trading at a given instant.
type Calendar struct {
	loc      *time.Location
	hours    map[string]TradingHours
	holidays []time.Time
}

func NewCalendar(loc *time.Location, holidays []time.Time) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, hours: DefaultTradingHours, holidays: holidays}
}

// ----- public API -----

// SessionAt classifies now for the exchange. Unknown exchanges are treated as always open.
func (c *Calendar) SessionAt(exchange string, now time.Time) Session {
	local := now.In(c.loc)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday || isDateAmong(local, c.holidays) {
		return SessionWeekendHoliday
	}

	h, ok := c.hours[strings.ToUpper(exchange)]
	if !ok {
		return SessionOpen
	}
	if isWithin(local, h) {
		return SessionOpen
	}
	return SessionClosed
}

func (c *Calendar) IsOpen(exchange string, now time.Time) bool {
	return c.SessionAt(exchange, now) == SessionOpen
}

// PollIntervalForSession scales base by the multiplier configured for the session.
func PollIntervalForSession(base time.Duration, s Session, cfg SessionPollConfig) time.Duration {
	mult := multiplierForSession(s, cfg)
	if mult.LessThanOrEqual(decimal.Zero) {
		return base
	}
	return time.Duration(decimal.NewFromInt(int64(base)).Mul(mult).IntPart())
}

// ----- helpers -----

func multiplierForSession(s Session, cfg SessionPollConfig) decimal.Decimal {
	switch s {
	case SessionClosed:
		return cfg.ClosedMultiplier
	case SessionWeekendHoliday:
		return cfg.WeekendHolidayMultiplier
	default:
		return cfg.OpenMultiplier
	}
}

func isWithin(t time.Time, h TradingHours) bool {
	minute := t.Hour()*60 + t.Minute()
	open := h.OpenHour*60 + h.OpenMin
	closing := h.CloseHour*60 + h.CloseMin
	return minute >= open && minute <= closing
}

// isDateAmong checks if the given date matches any date in the list.
func isDateAmong(t time.Time, dates []time.Time) bool {
	for _, d := range dates {
		if t.Format("2006-01-02") == d.Format("2006-01-02") {
			return true
		}
	}
	return false
}

// ParseHolidays reads YYYY-MM-DD dates, skipping blanks.
func ParseHolidays(values []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
