package connectors

import (
	"fmt"
	"strings"

	"livefeed/src/model"
)

// venueErrorMessages maps fragments of the venue emsg text onto the error taxonomy.
// Order matters: the first matching fragment wins.
var venueErrorMessages = []struct {
	fragment string
	kind     error
}{
	{"session expired", model.ErrAuthentication}, // session cookie no longer valid
	{"invalid session", model.ErrAuthentication}, // unknown session id
	{"unauthorized", model.ErrAuthentication},    // missing bearer
	{"not_ok", model.ErrAuthentication},          // generic login refusal
	{"invalid token", model.ErrSubscription},     // token not in contract master
	{"invalid symbol", model.ErrSubscription},    // symbol unknown to exchange
	{"no data", model.ErrSubscription},           // scrip exists but has no quote
	{"too many requests", model.ErrConnection},   // rate limited
	{"service unavailable", model.ErrConnection}, // gateway down
	{"market closed", model.ErrConnection},       // order window
	{"insufficient", model.ErrConnection},        // funds / margin shortfall
}

// ClassifyVenueError wraps the emsg in the sentinel it corresponds to.
// Unknown messages are treated as transient connection failures.
func ClassifyVenueError(emsg string) error {
	msg := strings.TrimSpace(emsg)
	if msg == "" {
		msg = "venue returned stat Not_Ok"
	}
	lower := strings.ToLower(msg)
	for _, m := range venueErrorMessages {
		if strings.Contains(lower, m.fragment) {
			return fmt.Errorf("%w: %s", m.kind, msg)
		}
	}
	return fmt.Errorf("%w: %s", model.ErrConnection, msg)
}
