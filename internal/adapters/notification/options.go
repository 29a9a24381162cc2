package notification

import "github.com/enersight/peakd/pkg/logger"

// Option configures the email notifier.
type Option func(*EmailNotifier)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(n *EmailNotifier) {
		if log != nil {
			n.log = log
		}
	}
}
