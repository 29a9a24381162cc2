package mark

import (
	"time"

	"github.com/enersight/peakd/pkg/logger"
)

// Option applies a configuration option to the Marker.
type Option func(*Marker)

// WithWindowWidth sets the extraction window width.
func WithWindowWidth(width time.Duration) Option {
	return func(m *Marker) {
		if width > 0 {
			m.windowWidth = width
		}
	}
}

// WithPeakMultiplier sets the default severity multiplier for peak scans.
func WithPeakMultiplier(mult float64) Option {
	return func(m *Marker) {
		if mult > 0 {
			m.peakMultiplier = mult
		}
	}
}

// WithAnomalyMultiplier sets the default severity multiplier for anomaly
// scans.
func WithAnomalyMultiplier(mult float64) Option {
	return func(m *Marker) {
		if mult > 0 {
			m.anomalyMultiplier = mult
		}
	}
}

// WithConfidenceThreshold sets the minimum confidence for a device
// suggestion to be written back.
func WithConfidenceThreshold(threshold float64) Option {
	return func(m *Marker) {
		if threshold > 0 {
			m.confidenceThreshold = threshold
		}
	}
}

// WithUnsubscribeBaseURL sets the base URL embedded in anomaly emails.
func WithUnsubscribeBaseURL(base string) Option {
	return func(m *Marker) {
		if base != "" {
			m.unsubscribeBaseURL = base
		}
	}
}

// WithClock sets the time source, letting tests pin "now".
func WithClock(now func() time.Time) Option {
	return func(m *Marker) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Marker) {
		if log != nil {
			m.log = log
		}
	}
}
