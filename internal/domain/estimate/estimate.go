// Package estimate infers per-device power draw from accumulated
// peak-device associations via least-squares regression. Devices with a
// user-declared power are treated as known constants; the remainder are
// regression targets over the peaks they participated in.
package estimate

import (
	"github.com/enersight/peakd/internal/domain/model"
)

// Observation is one attributed peak: the devices believed responsible
// and the observed power of the spike.
type Observation struct {
	DeviceIDs []string
	Power     float64
}

// Fit is the result of an estimation run.
type Fit struct {
	// Powers maps estimated device IDs to their fitted power draw.
	Powers map[string]float64

	// RSquared is the goodness of fit over the usable observations.
	RSquared float64

	// EstimatedDeviceIDs lists the regression targets in column order.
	EstimatedDeviceIDs []string
}

// Estimate fits power values for the estimation-target devices.
//
// Observations whose device sets consist entirely of fixed-power devices
// carry no information about the targets and are discarded; the known
// contribution of fixed devices is subtracted from the rest. A nil Fit
// with a nil error means insufficient data, an expected steady-state
// condition, not a failure. A non-invertible system returns ErrSingular.
func Estimate(devices []model.Device, observations []Observation) (*Fit, error) {
	fixed := make(map[string]float64)
	targetIdx := make(map[string]int)
	var targets []string
	for _, d := range devices {
		if d.PowerEstimated {
			targetIdx[d.ID] = len(targets)
			targets = append(targets, d.ID)
			continue
		}
		if d.Power != nil {
			fixed[d.ID] = *d.Power
		} else {
			fixed[d.ID] = 0
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	var a [][]float64
	var b []float64
	for _, obs := range observations {
		row := make([]float64, len(targets))
		usable := false
		adjusted := obs.Power
		for _, id := range obs.DeviceIDs {
			if idx, ok := targetIdx[id]; ok {
				row[idx] = 1
				usable = true
				continue
			}
			adjusted -= fixed[id]
		}
		if !usable {
			continue
		}
		a = append(a, row)
		b = append(b, adjusted)
	}
	if len(a) == 0 {
		return nil, nil
	}

	x, err := solveLeastSquares(a, b)
	if err != nil {
		return nil, err
	}

	powers := make(map[string]float64, len(targets))
	for i, id := range targets {
		powers[id] = x[i]
	}

	return &Fit{
		Powers:             powers,
		RSquared:           rSquared(a, b, x),
		EstimatedDeviceIDs: targets,
	}, nil
}

// rSquared computes 1 - SSR/SST. A zero SST (all targets identical)
// yields 1 for a perfect fit and 0 otherwise, avoiding division by zero.
func rSquared(a [][]float64, b, x []float64) float64 {
	var mean float64
	for _, v := range b {
		mean += v
	}
	mean /= float64(len(b))

	var ssr, sst float64
	for i, row := range a {
		var pred float64
		for j, v := range row {
			pred += v * x[j]
		}
		r := b[i] - pred
		ssr += r * r
		d := b[i] - mean
		sst += d * d
	}
	if sst == 0 {
		if ssr < pivotEpsilon {
			return 1
		}
		return 0
	}
	return 1 - ssr/sst
}
