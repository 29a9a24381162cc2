package service

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/enersight/peakd/internal/adapters/mq/queue"
	"github.com/enersight/peakd/internal/adapters/repository"
	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeClassifier struct {
	label      string
	confidence float64
}

func (f *fakeClassifier) Classify(ctx context.Context, peaks []mark.PeakSeries) ([]mark.Attribution, error) {
	out := make([]mark.Attribution, len(peaks))
	for i, p := range peaks {
		out[i] = mark.Attribution{
			PeakID:  p.PeakID,
			Devices: []mark.Suggestion{{Label: f.label, Confidence: f.confidence}},
		}
	}
	return out, nil
}

type fakeNotifier struct {
	alerts []mark.Alert
}

func (f *fakeNotifier) SendAnomalyAlert(ctx context.Context, alert mark.Alert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func floatPtr(v float64) *float64 { return &v }

// seedFleet registers one user with one sensor and a washer, plus a flat
// series with a clear spike in a window old enough to be closed.
func seedFleet(store *repository.MemoryStore) (spikeStart, spikeEnd time.Time) {
	store.AddUser(model.User{ID: "u-1", Email: "u1@example.com", Name: "U One", Timezone: "UTC"})
	store.AddSensor(model.Sensor{ID: "s-1", UserID: "u-1"})
	store.AddDevice(model.Device{ID: "d-washer", UserID: "u-1", Name: "Washer", Category: "washing_machine"})

	start := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Minute)
	for i := 0; i < 13; i++ {
		store.AddReadings(model.EnergyReading{
			SensorID: "s-1",
			TS:       start.Add(time.Duration(i) * 5 * time.Minute),
			Value:    10,
		})
	}
	store.AddReadings(model.EnergyReading{
		SensorID: "s-1",
		TS:       start.Add(70 * time.Minute),
		Value:    500,
	})
	return start, start.Add(2 * time.Hour)
}

func newTestService(store *repository.MemoryStore, q *queue.MemoryQueue) *Service {
	return New(
		WithStore(store),
		WithQueue(q),
		WithClassifier(&fakeClassifier{label: "washing_machine", confidence: 0.95}),
		WithNotifier(&fakeNotifier{}),
		// Keep background loops idle so tests drive the pipeline.
		WithPollInterval(time.Hour),
		WithScheduleInterval(time.Hour),
		WithEstimateInterval(time.Hour),
	)
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service on in-memory adapters", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		q := queue.NewMemoryQueue()
		svc := newTestService(store, q)

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("Then stats should report a running service", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["queueDepth"], ShouldEqual, 0)
			})

			Convey("And a second Start should be a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})

		Convey("Sweep before Start should fail", func() {
			_, err := svc.Sweep(ctx)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestServiceSweepAndProcess(t *testing.T) {
	Convey("Given a started service with a seeded fleet", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		q := queue.NewMemoryQueue()
		spikeStart, spikeEnd := seedFleet(store)

		svc := newTestService(store, q)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When sweeping the fleet", func() {
			res, err := svc.Sweep(ctx)

			Convey("Then one peak and one anomaly job should be enqueued", func() {
				So(err, ShouldBeNil)
				So(res.Enqueued, ShouldEqual, 2)
				So(res.Failed, ShouldEqual, 0)

				depth, err := q.Len(ctx)
				So(err, ShouldBeNil)
				So(depth, ShouldEqual, 2)
			})
		})

		Convey("When processing a peak job over the spike window", func() {
			_, err := q.Send(ctx, model.ScanJob{
				SensorID: "s-1",
				Kind:     model.KindPeak,
				Start:    spikeStart,
				End:      spikeEnd,
			})
			So(err, ShouldBeNil)

			msgs, err := q.Read(ctx, 1, time.Minute)
			So(err, ShouldBeNil)
			So(msgs, ShouldHaveLength, 1)

			So(svc.Process(ctx, msgs[0]), ShouldBeNil)

			Convey("Then the spike should be marked and attributed", func() {
				So(store.PeakCount(), ShouldEqual, 1)

				peaks, err := store.UnassignedPeaks(ctx, "s-1", model.KindPeak, spikeStart, spikeEnd)
				So(err, ShouldBeNil)
				So(peaks, ShouldBeEmpty) // assigned to the washer
			})

			Convey("And the message should be gone from the queue", func() {
				depth, err := q.Len(ctx)
				So(err, ShouldBeNil)
				So(depth, ShouldEqual, 0)
			})
		})
	})
}

func TestRunEstimation(t *testing.T) {
	Convey("Given accumulated attributions for one user", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		q := queue.NewMemoryQueue()

		store.AddUser(model.User{ID: "u-1", Email: "u1@example.com", Timezone: "UTC"})
		store.AddSensor(model.Sensor{ID: "s-1", UserID: "u-1"})
		store.AddDevice(model.Device{ID: "d-fridge", UserID: "u-1", Name: "Fridge",
			Category: "fridge", Power: floatPtr(100)})
		store.AddDevice(model.Device{ID: "d-washer", UserID: "u-1", Name: "Washer",
			Category: "washing_machine", PowerEstimated: true})

		base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
		peaks := []model.PeakEvent{
			{ID: "p-1", SensorID: "s-1", Start: base, End: base.Add(time.Hour),
				Kind: model.KindPeak, Value: 600},
			{ID: "p-2", SensorID: "s-1", Start: base.Add(time.Hour), End: base.Add(2 * time.Hour),
				Kind: model.KindPeak, Value: 500},
		}
		_, err := store.InsertPeaks(ctx, peaks)
		So(err, ShouldBeNil)
		So(store.AssignDevices(ctx, "p-1", []string{"d-fridge", "d-washer"}), ShouldBeNil)
		So(store.AssignDevices(ctx, "p-2", []string{"d-washer"}), ShouldBeNil)

		svc := newTestService(store, q)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When the estimation sweep runs", func() {
			svc.runEstimation(ctx)

			Convey("Then the washer's power should be fitted", func() {
				devices, err := store.DevicesByUser(ctx, "u-1")
				So(err, ShouldBeNil)

				var washer model.Device
				for _, d := range devices {
					if d.ID == "d-washer" {
						washer = d
					}
				}
				So(washer.Power, ShouldNotBeNil)
				So(*washer.Power, ShouldAlmostEqual, 500, 1e-9)
				So(washer.PowerEstimated, ShouldBeTrue)
			})

			Convey("And the fixed-power fridge should be untouched", func() {
				devices, err := store.DevicesByUser(ctx, "u-1")
				So(err, ShouldBeNil)

				for _, d := range devices {
					if d.ID == "d-fridge" {
						So(*d.Power, ShouldAlmostEqual, 100)
						So(d.PowerEstimated, ShouldBeFalse)
					}
				}
			})
		})
	})
}
