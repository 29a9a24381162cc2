package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrNoSuchMessage = errors.New("queue: no such message")
)
