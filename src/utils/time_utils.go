package utils

import (
	"time"

	logger "github.com/sirupsen/logrus"
)

// istOffset is used when the tz database is not available on the host.
const istOffset = 5*60*60 + 30*60

// VenueLocation loads the named zone, falling back to a fixed IST offset.
func VenueLocation(name string) *time.Location {
	if name == "" {
		name = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.WithError(err).WithField("zone", name).Warn("timezone not found, using fixed +05:30")
		return time.FixedZone("IST", istOffset)
	}
	return loc
}

// ResetTime resets the time component based on the granularity specified.
// Pass "minute" to reset seconds, "hour" to reset minutes and "day" for midnight in t's location.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	case "day":
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	default:
		logger.WithField("granularity", granularity).Warn("invalid granularity, use minute, hour or day")
		return t
	}
}
