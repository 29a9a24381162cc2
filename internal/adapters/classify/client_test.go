package classify

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/protobuf/encoding/protowire"

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

// encodeResponse builds a ClassifyResponse the way the service would,
// so tests exercise the real decode path.
func encodeResponse(results []mark.Attribution) []byte {
	var out []byte
	for _, r := range results {
		var res []byte
		res = protowire.AppendTag(res, fieldID, protowire.BytesType)
		res = protowire.AppendString(res, r.PeakID)
		for _, d := range r.Devices {
			var dev []byte
			dev = protowire.AppendTag(dev, fieldName, protowire.BytesType)
			dev = protowire.AppendString(dev, d.Label)
			dev = protowire.AppendTag(dev, fieldConfidence, protowire.Fixed64Type)
			dev = protowire.AppendFixed64(dev, math.Float64bits(d.Confidence))

			res = protowire.AppendTag(res, fieldDevices, protowire.BytesType)
			res = protowire.AppendBytes(res, dev)
		}
		out = protowire.AppendTag(out, fieldResults, protowire.BytesType)
		out = protowire.AppendBytes(out, res)
	}
	return out
}

func samplePeaks() []mark.PeakSeries {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return []mark.PeakSeries{
		{
			PeakID: "peak-1",
			Samples: []model.EnergyReading{
				{SensorID: "s-1", TS: base, Value: 120.5},
				{SensorID: "s-1", TS: base.Add(5 * time.Minute), Value: 480.25},
			},
		},
	}
}

func TestNew(t *testing.T) {
	Convey("Given client construction", t, func() {
		Convey("It should require a URL", func() {
			_, err := New("", "key")
			So(err, ShouldNotBeNil)
		})

		Convey("It should require an API key", func() {
			_, err := New("http://classify.local", "")
			So(err, ShouldEqual, ErrNoAPIKey)
		})

		Convey("It should build with both set", func() {
			c, err := New("http://classify.local", "key")
			So(err, ShouldBeNil)
			So(c, ShouldNotBeNil)
		})
	})
}

func TestClassify(t *testing.T) {
	Convey("Given a classification service", t, func() {
		ctx := context.Background()

		Convey("When the service responds with suggestions", func() {
			var gotKey, gotContentType string
			var gotBody []byte

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("x-api-key")
				gotContentType = r.Header.Get("Content-Type")
				gotBody, _ = io.ReadAll(r.Body)

				w.Header().Set("Content-Type", contentType)
				w.Write(encodeResponse([]mark.Attribution{
					{PeakID: "peak-1", Devices: []mark.Suggestion{
						{Label: "washing_machine", Confidence: 0.97},
						{Label: "fridge", Confidence: 0.41},
					}},
				}))
			}))
			defer srv.Close()

			c, err := New(srv.URL, "secret-key")
			So(err, ShouldBeNil)

			results, err := c.Classify(ctx, samplePeaks())

			Convey("It should authenticate and frame the request", func() {
				So(err, ShouldBeNil)
				So(gotKey, ShouldEqual, "secret-key")
				So(gotContentType, ShouldEqual, "application/x-protobuf")
				So(len(gotBody), ShouldBeGreaterThan, 0)

				// The request must open with the peaks field tag.
				num, typ, n := protowire.ConsumeTag(gotBody)
				So(n, ShouldBeGreaterThan, 0)
				So(num, ShouldEqual, protowire.Number(fieldPeaks))
				So(typ, ShouldEqual, protowire.BytesType)
			})

			Convey("It should decode all suggestions", func() {
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 1)
				So(results[0].PeakID, ShouldEqual, "peak-1")
				So(results[0].Devices, ShouldHaveLength, 2)
				So(results[0].Devices[0].Label, ShouldEqual, "washing_machine")
				So(results[0].Devices[0].Confidence, ShouldAlmostEqual, 0.97)
				So(results[0].Devices[1].Label, ShouldEqual, "fridge")
				So(results[0].Devices[1].Confidence, ShouldAlmostEqual, 0.41)
			})
		})

		Convey("When there are no peaks to classify", func() {
			c, err := New("http://unused.local", "key")
			So(err, ShouldBeNil)

			results, err := c.Classify(ctx, nil)

			Convey("It should skip the request entirely", func() {
				So(err, ShouldBeNil)
				So(results, ShouldBeNil)
			})
		})

		Convey("When the service rejects the request", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "forbidden", http.StatusForbidden)
			}))
			defer srv.Close()

			c, err := New(srv.URL, "wrong-key")
			So(err, ShouldBeNil)

			results, err := c.Classify(ctx, samplePeaks())

			Convey("It should return an error", func() {
				So(err, ShouldNotBeNil)
				So(results, ShouldBeNil)
			})
		})

		Convey("When the response is not valid protobuf", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not protobuf at all"))
			}))
			defer srv.Close()

			c, err := New(srv.URL, "key")
			So(err, ShouldBeNil)

			_, err = c.Classify(ctx, samplePeaks())

			Convey("It should return a decode error", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the service is unreachable", func() {
			c, err := New("http://127.0.0.1:1", "key", WithTimeout(200*time.Millisecond))
			So(err, ShouldBeNil)

			_, err = c.Classify(ctx, samplePeaks())

			Convey("It should surface the transport error", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestWireRoundTrip(t *testing.T) {
	Convey("Given the hand-rolled wire codec", t, func() {
		Convey("A response with multiple results should round-trip", func() {
			want := []mark.Attribution{
				{PeakID: "a", Devices: []mark.Suggestion{{Label: "oven", Confidence: 0.9}}},
				{PeakID: "b", Devices: nil},
				{PeakID: "c", Devices: []mark.Suggestion{
					{Label: "dishwasher", Confidence: 0.55},
					{Label: "kettle", Confidence: 0.12},
				}},
			}

			got, err := decodeResponse(encodeResponse(want))
			So(err, ShouldBeNil)
			So(got, ShouldResemble, want)
		})

		Convey("An empty body should decode to no results", func() {
			got, err := decodeResponse(nil)
			So(err, ShouldBeNil)
			So(got, ShouldBeNil)
		})
	})
}
