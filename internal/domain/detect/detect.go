// Package detect implements statistical peak extraction over a sensor's
// energy series. Extraction is pure and deterministic: the caller supplies
// the series and a reference time, the detector returns discrete windows
// whose readings exceed mean + multiplier*sigma.
//
// Peak and anomaly detection are the same algorithm; only the severity
// multiplier differs (around 2 for ordinary peaks, a very large value for
// anomaly checks so that only extreme spikes survive).
package detect

import (
	"math"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
)

// Default extraction parameters.
const (
	DefaultWindowWidth = 60 * time.Minute
	DefaultMultiplier  = 2.0
)

// Window is one contiguous group of above-threshold readings.
type Window struct {
	Start time.Time // TS of the first above-threshold reading
	End   time.Time // TS of the last above-threshold reading
	Peak  model.EnergyReading
}

// Detector extracts peak windows from energy series.
type Detector struct {
	windowWidth time.Duration
	multiplier  float64
}

// New creates a Detector with configuration options.
func New(opts ...Option) *Detector {
	d := &Detector{
		windowWidth: DefaultWindowWidth,
		multiplier:  DefaultMultiplier,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Multiplier returns the configured severity multiplier.
func (d *Detector) Multiplier() float64 { return d.multiplier }

// WindowWidth returns the configured window width.
func (d *Detector) WindowWidth() time.Duration { return d.windowWidth }

// Extract returns the peak windows of series relative to ref.
//
// Series is expected in ascending TS order. Windows close on time elapsed
// since the window's FIRST reading, not since the previous point: widely
// spaced readings merge as long as none crosses the width boundary from
// the window start. Windows whose start is younger than the width
// relative to ref are dropped so that a window still in progress is never
// finalized. The representative reading is the first maximum encountered.
func (d *Detector) Extract(series []model.EnergyReading, ref time.Time) []Window {
	if len(series) == 0 {
		return nil
	}

	mean, std := meanStd(series)
	threshold := mean + d.multiplier*std

	var above []model.EnergyReading
	for _, r := range series {
		if r.Value > threshold {
			above = append(above, r)
		}
	}
	if len(above) == 0 {
		return nil
	}

	var windows []Window
	cur := newWindow(above[0])
	for _, r := range above[1:] {
		if r.TS.Sub(cur.Start) >= d.windowWidth {
			windows = append(windows, cur)
			cur = newWindow(r)
			continue
		}
		cur.End = r.TS
		if r.Value > cur.Peak.Value {
			cur.Peak = r
		}
	}
	windows = append(windows, cur)

	// A window younger than the width may still be accumulating readings.
	final := windows[:0]
	for _, w := range windows {
		if ref.Sub(w.Start) >= d.windowWidth {
			final = append(final, w)
		}
	}
	if len(final) == 0 {
		return nil
	}
	return final
}

func newWindow(r model.EnergyReading) Window {
	return Window{Start: r.TS, End: r.TS, Peak: r}
}

// meanStd computes the mean and population standard deviation of the
// series values.
func meanStd(series []model.EnergyReading) (mean, std float64) {
	n := float64(len(series))
	var sum float64
	for _, r := range series {
		sum += r.Value
	}
	mean = sum / n

	var sq float64
	for _, r := range series {
		d := r.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
