package estimate_test

import (
	"errors"
	"testing"

	"github.com/enersight/peakd/internal/domain/category"
	"github.com/enersight/peakd/internal/domain/estimate"
	"github.com/enersight/peakd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func fixedDevice(id string, power float64) model.Device {
	return model.Device{ID: id, UserID: "u-1", Name: id, Category: category.Other, Power: &power}
}

func estimatedDevice(id string) model.Device {
	return model.Device{ID: id, UserID: "u-1", Name: id, Category: category.Other, PowerEstimated: true}
}

func TestEstimateRoundTrip(t *testing.T) {
	Convey("Given a fixed device A (100W) and an estimated device B", t, func() {
		devices := []model.Device{fixedDevice("A", 100), estimatedDevice("B")}

		Convey("When three peaks contain both with a true B power of 50", func() {
			obs := []estimate.Observation{
				{DeviceIDs: []string{"A", "B"}, Power: 150},
				{DeviceIDs: []string{"A", "B"}, Power: 150},
				{DeviceIDs: []string{"A", "B"}, Power: 150},
			}
			fit, err := estimate.Estimate(devices, obs)

			Convey("Then B is recovered at 50 with a perfect fit", func() {
				So(err, ShouldBeNil)
				So(fit, ShouldNotBeNil)
				So(fit.Powers["B"], ShouldAlmostEqual, 50, 1e-9)
				So(fit.RSquared, ShouldAlmostEqual, 1, 1e-9)
				So(fit.EstimatedDeviceIDs, ShouldResemble, []string{"B"})
			})
		})

		Convey("When peaks carry noisy but consistent targets", func() {
			devices = append(devices, estimatedDevice("C"))
			obs := []estimate.Observation{
				{DeviceIDs: []string{"B"}, Power: 40},
				{DeviceIDs: []string{"C"}, Power: 60},
				{DeviceIDs: []string{"B", "C"}, Power: 100},
				{DeviceIDs: []string{"A", "B"}, Power: 140},
			}
			fit, err := estimate.Estimate(devices, obs)

			Convey("Then both targets fit with high R squared", func() {
				So(err, ShouldBeNil)
				So(fit, ShouldNotBeNil)
				So(fit.Powers["B"], ShouldAlmostEqual, 40, 1e-6)
				So(fit.Powers["C"], ShouldAlmostEqual, 60, 1e-6)
				So(fit.RSquared, ShouldAlmostEqual, 1, 1e-6)
			})
		})
	})
}

func TestEstimateInsufficientData(t *testing.T) {
	Convey("Given only fixed-power devices in every peak", t, func() {
		devices := []model.Device{fixedDevice("A", 100), fixedDevice("X", 30), estimatedDevice("B")}
		obs := []estimate.Observation{
			{DeviceIDs: []string{"A"}, Power: 102},
			{DeviceIDs: []string{"A", "X"}, Power: 131},
		}

		Convey("When estimating", func() {
			fit, err := estimate.Estimate(devices, obs)

			Convey("Then the result is the insufficient-data sentinel, not an error", func() {
				So(err, ShouldBeNil)
				So(fit, ShouldBeNil)
			})
		})
	})

	Convey("Given no estimation targets at all", t, func() {
		devices := []model.Device{fixedDevice("A", 100)}
		obs := []estimate.Observation{{DeviceIDs: []string{"A"}, Power: 100}}

		fit, err := estimate.Estimate(devices, obs)
		So(err, ShouldBeNil)
		So(fit, ShouldBeNil)
	})

	Convey("Given no observations", t, func() {
		devices := []model.Device{estimatedDevice("B")}

		fit, err := estimate.Estimate(devices, nil)
		So(err, ShouldBeNil)
		So(fit, ShouldBeNil)
	})
}

func TestEstimateSingularSystem(t *testing.T) {
	Convey("Given two targets that always appear together", t, func() {
		devices := []model.Device{estimatedDevice("B"), estimatedDevice("C")}
		obs := []estimate.Observation{
			{DeviceIDs: []string{"B", "C"}, Power: 90},
			{DeviceIDs: []string{"B", "C"}, Power: 92},
			{DeviceIDs: []string{"B", "C"}, Power: 88},
		}

		Convey("When estimating", func() {
			fit, err := estimate.Estimate(devices, obs)

			Convey("Then the solver reports non-invertibility instead of NaNs", func() {
				So(fit, ShouldBeNil)
				So(errors.Is(err, estimate.ErrSingular), ShouldBeTrue)
			})
		})
	})
}

func TestEstimateDegenerateFit(t *testing.T) {
	Convey("Given identical targets with an imperfect single-column fit", t, func() {
		devices := []model.Device{estimatedDevice("B"), estimatedDevice("C")}
		obs := []estimate.Observation{
			{DeviceIDs: []string{"B"}, Power: 50},
			{DeviceIDs: []string{"C"}, Power: 50},
		}

		Convey("When every adjusted target is identical and the fit is exact", func() {
			fit, err := estimate.Estimate(devices, obs)

			Convey("Then the zero-SST rule rewards the perfect degenerate fit", func() {
				So(err, ShouldBeNil)
				So(fit, ShouldNotBeNil)
				So(fit.RSquared, ShouldEqual, 1)
			})
		})
	})
}
