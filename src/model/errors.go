package model

import "errors"

var (
	// ErrAuthentication means credentials are missing or refused. Fatal for the session.
	ErrAuthentication = errors.New("authentication failure")
	// ErrConnection is a transient transport failure, retried with backoff.
	ErrConnection = errors.New("connection failure")
	// ErrSubscription excludes one instrument from the stream.
	ErrSubscription = errors.New("subscription failure")
	// ErrParse marks a frame that is not a tick; dropped silently.
	ErrParse = errors.New("parse error")
	// ErrResolution excludes an instrument that cannot be mapped.
	ErrResolution = errors.New("resolution failure")
)
