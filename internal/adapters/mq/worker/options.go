package worker

import (
	"time"

	"github.com/enersight/peakd/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithWorkerCount sets the number of polling workers.
func WithWorkerCount(count int) Option {
	return func(p *Pool) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithPollInterval sets how often an idle worker polls the queue.
func WithPollInterval(interval time.Duration) Option {
	return func(p *Pool) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithVisibilityTimeout sets the lease duration for read messages.
func WithVisibilityTimeout(vt time.Duration) Option {
	return func(p *Pool) {
		if vt > 0 {
			p.visibility = vt
		}
	}
}

// WithReadBatch sets how many messages one poll may lease.
func WithReadBatch(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.readBatch = n
		}
	}
}

// WithMaxReadCount sets the delivery cap after which a message is
// archived instead of redelivered. Zero disables the cap.
func WithMaxReadCount(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.maxReadCount = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}
