package detect

import "time"

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithWindowWidth sets the width after which a window closes, measured
// from the window's first reading.
func WithWindowWidth(width time.Duration) Option {
	return func(d *Detector) {
		if width > 0 {
			d.windowWidth = width
		}
	}
}

// WithMultiplier sets the severity multiplier applied to the standard
// deviation when computing the threshold.
func WithMultiplier(multiplier float64) Option {
	return func(d *Detector) {
		if multiplier > 0 {
			d.multiplier = multiplier
		}
	}
}
