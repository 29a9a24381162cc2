package mark_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enersight/peakd/internal/adapters/repository"
	"github.com/enersight/peakd/internal/domain/category"
	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClassifier struct {
	calls       int
	err         error
	suggestions []mark.Suggestion
}

func (f *fakeClassifier) Classify(_ context.Context, peaks []mark.PeakSeries) ([]mark.Attribution, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []mark.Attribution
	for _, p := range peaks {
		out = append(out, mark.Attribution{PeakID: p.PeakID, Devices: f.suggestions})
	}
	return out, nil
}

type fakeNotifier struct {
	alerts []mark.Alert
	err    error
}

func (f *fakeNotifier) SendAnomalyAlert(_ context.Context, alert mark.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

// failingReadings wraps the memory store with a storage read failure.
type failingReadings struct {
	*repository.MemoryStore
}

func (f *failingReadings) Readings(context.Context, string, time.Time, time.Time) ([]model.EnergyReading, error) {
	return nil, errors.New("connection reset")
}

func seededStore(t0 time.Time) *repository.MemoryStore {
	s := repository.NewMemoryStore()
	s.AddUser(model.User{ID: "u-1", Email: "u1@example.com", Name: "Pat", Timezone: "UTC"})
	s.AddSensor(model.Sensor{ID: "s-1", UserID: "u-1"})
	s.AddDevice(model.Device{ID: "d-washer", UserID: "u-1", Name: "Washer", Category: category.WashingMachine})
	s.AddDevice(model.Device{ID: "d-fridge", UserID: "u-1", Name: "Fridge", Category: category.Fridge})
	for i := 0; i < 13; i++ {
		s.AddReadings(model.EnergyReading{SensorID: "s-1", TS: t0.Add(time.Duration(i) * 5 * time.Minute), Value: 10})
	}
	s.AddReadings(model.EnergyReading{SensorID: "s-1", TS: t0.Add(70 * time.Minute), Value: 500})
	return s
}

func TestFindAndMarkPeaks(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	t0 := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	now := t0.Add(4 * time.Hour)
	criteria := mark.Criteria{
		SensorID: "s-1",
		Kind:     model.KindPeak,
		Start:    t0,
		End:      t0.Add(2 * time.Hour),
	}

	Convey("Given a sensor with one clear spike", t, func() {
		store := seededStore(t0)
		classifier := &fakeClassifier{suggestions: []mark.Suggestion{
			{Label: "washing_machine", Confidence: 0.95},
			{Label: "fridge", Confidence: 0.89},
		}}
		notifier := &fakeNotifier{}
		m := mark.New(store, classifier, notifier, mark.WithClock(func() time.Time { return now }))

		Convey("When finding and marking peaks", func() {
			out, err := m.FindAndMark(ctx, criteria)
			So(err, ShouldBeNil)

			Convey("Then one window is found and persisted", func() {
				So(out.Found, ShouldEqual, 1)
				So(out.Marked, ShouldEqual, 1)
				So(store.PeakCount(), ShouldEqual, 1)
			})

			Convey("Then only suggestions at or above the confidence cutoff are written back", func() {
				So(classifier.calls, ShouldEqual, 1)
				peaks, err := store.UnassignedPeaks(ctx, "s-1", model.KindPeak, t0, t0.Add(2*time.Hour))
				So(err, ShouldBeNil)
				So(peaks, ShouldBeEmpty) // the spike peak got its washer

				obs, err := store.ObservationsByUser(ctx, "u-1")
				So(err, ShouldBeNil)
				So(len(obs), ShouldEqual, 1)
				So(obs[0].DeviceIDs, ShouldResemble, []string{"d-washer"})
			})

			Convey("And when the same message is redelivered", func() {
				again, err := m.FindAndMark(ctx, criteria)

				Convey("Then no duplicate events are created", func() {
					So(err, ShouldBeNil)
					So(again.Found, ShouldEqual, 1)
					So(again.Marked, ShouldEqual, 0)
					So(store.PeakCount(), ShouldEqual, 1)
				})
			})
		})

		Convey("When the classification service fails", func() {
			classifier.err = errors.New("upstream 503")
			out, err := m.FindAndMark(ctx, criteria)

			Convey("Then the run degrades: peaks stay marked but unassigned", func() {
				So(err, ShouldBeNil)
				So(out.Marked, ShouldEqual, 1)
				peaks, err := store.UnassignedPeaks(ctx, "s-1", model.KindPeak, t0, t0.Add(2*time.Hour))
				So(err, ShouldBeNil)
				So(len(peaks), ShouldEqual, 1)
			})
		})

		Convey("When the classifier returns an unknown category label", func() {
			classifier.suggestions = []mark.Suggestion{{Label: "quantum_blender", Confidence: 0.99}}
			_, err := m.FindAndMark(ctx, criteria)

			Convey("Then the contract drift fails loudly", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "quantum_blender")
			})
		})

		Convey("When storage reads fail", func() {
			broken := &failingReadings{MemoryStore: store}
			m2 := mark.New(broken, classifier, notifier, mark.WithClock(func() time.Time { return now }))
			_, err := m2.FindAndMark(ctx, criteria)

			Convey("Then the failure propagates for redelivery", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestFindAndMarkAnomalies(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	t0 := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	now := t0.Add(4 * time.Hour)
	criteria := mark.Criteria{
		SensorID:   "s-1",
		UserID:     "u-1",
		Kind:       model.KindAnomaly,
		Start:      t0,
		End:        t0.Add(2 * time.Hour),
		Multiplier: 2, // exercise the caller-supplied severity
	}

	Convey("Given a sensor with one anomalous spike", t, func() {
		store := seededStore(t0)
		classifier := &fakeClassifier{}
		notifier := &fakeNotifier{}
		m := mark.New(store, classifier, notifier, mark.WithClock(func() time.Time { return now }))

		Convey("When marking anomalies", func() {
			out, err := m.FindAndMark(ctx, criteria)
			So(err, ShouldBeNil)
			So(out.Marked, ShouldEqual, 1)

			Convey("Then exactly one notification is sent with an unsubscribe link", func() {
				So(len(notifier.alerts), ShouldEqual, 1)
				So(notifier.alerts[0].To, ShouldEqual, "u1@example.com")
				So(notifier.alerts[0].Value, ShouldEqual, 500)
				So(notifier.alerts[0].UnsubscribeLink, ShouldContainSubstring, "token=")
			})

			Convey("Then classification is never involved", func() {
				So(classifier.calls, ShouldEqual, 0)
			})

			Convey("And when the same window is reprocessed", func() {
				again, err := m.FindAndMark(ctx, criteria)

				Convey("Then no second notification goes out", func() {
					So(err, ShouldBeNil)
					So(again.Marked, ShouldEqual, 0)
					So(len(notifier.alerts), ShouldEqual, 1)
				})
			})
		})

		Convey("When the default anomaly multiplier is in effect", func() {
			huge := criteria
			huge.Multiplier = 0 // falls back to the 5000x default
			out, err := m.FindAndMark(ctx, huge)

			Convey("Then an ordinary spike never fires an anomaly", func() {
				So(err, ShouldBeNil)
				So(out.Found, ShouldEqual, 0)
				So(len(notifier.alerts), ShouldEqual, 0)
			})
		})

		Convey("When the notification send fails", func() {
			notifier.err = errors.New("smtp timeout")
			out, err := m.FindAndMark(ctx, criteria)

			Convey("Then the events stay marked and the run still succeeds", func() {
				So(err, ShouldBeNil)
				So(out.Marked, ShouldEqual, 1)
				So(store.PeakCount(), ShouldEqual, 1)
			})
		})
	})
}
