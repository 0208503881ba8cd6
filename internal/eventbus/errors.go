package eventbus

import "errors"

var (
	// ErrBusStopped is returned by Publish once the bus has been stopped.
	ErrBusStopped = errors.New("eventbus: stopped")

	// ErrInvalidEvent is returned when an event is missing required fields.
	ErrInvalidEvent = errors.New("eventbus: invalid event")
)
