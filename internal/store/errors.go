package store

import "errors"

// Failure kinds reported by every EventStore. Drivers wrap the underlying
// cause, so callers test with errors.Is.
var (
	ErrConnection       = errors.New("store connection failure")
	ErrAlreadyScheduled = errors.New("an event is already scheduled for this key")
	ErrIllegalState     = errors.New("illegal state transition")
	ErrNoResult         = errors.New("no matching event")
)
