package queue

import "time"

// Option applies a configuration option to the MemoryQueue.
type Option func(*MemoryQueue)

// WithClock sets the time source, letting tests advance the visibility
// timeout deterministically.
func WithClock(now func() time.Time) Option {
	return func(q *MemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}
