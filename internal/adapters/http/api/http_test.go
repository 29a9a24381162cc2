package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/enersight/peakd/internal/adapters/mq/scheduler"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const testSecret = "test-secret"

// fakeDeps records calls made by the handlers.
type fakeDeps struct {
	sweepResult SweepResult
	sweepErr    error
	sweepCalls  int

	processErr   error
	processCalls int
	lastMsg      model.Message
}

type SweepResult = scheduler.SweepResult

func (f *fakeDeps) Sweep(ctx context.Context) (SweepResult, error) {
	f.sweepCalls++
	return f.sweepResult, f.sweepErr
}

func (f *fakeDeps) Process(ctx context.Context, msg model.Message) error {
	f.processCalls++
	f.lastMsg = msg
	return f.processErr
}

func (f *fakeDeps) GetStats() map[string]interface{} {
	return map[string]interface{}{"queue_depth": 3}
}

func newTestServer(deps *fakeDeps) *http.ServeMux {
	mux := http.NewServeMux()
	NewServer(deps, deps, testSecret).Register(context.Background(), mux)
	return mux
}

func doRequest(mux *http.ServeMux, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	Convey("Given the job endpoints", t, func() {
		deps := &fakeDeps{}
		mux := newTestServer(deps)

		Convey("A request without a token should get 401", func() {
			rec := doRequest(mux, http.MethodGet, "/jobs/schedule", "", "")
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(deps.sweepCalls, ShouldEqual, 0)
		})

		Convey("A request with the wrong token should get 401", func() {
			rec := doRequest(mux, http.MethodGet, "/jobs/schedule", "wrong", "")
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(deps.sweepCalls, ShouldEqual, 0)
		})

		Convey("The process endpoint should be guarded too", func() {
			rec := doRequest(mux, http.MethodPost, "/jobs/process", "", `{}`)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(deps.processCalls, ShouldEqual, 0)
		})

		Convey("The health endpoint should stay open", func() {
			rec := doRequest(mux, http.MethodGet, "/healthz", "", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestHandleSchedule(t *testing.T) {
	Convey("Given the schedule endpoint", t, func() {
		Convey("A sweep should report its counts", func() {
			deps := &fakeDeps{sweepResult: SweepResult{Enqueued: 8, Failed: 1}}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodGet, "/jobs/schedule", testSecret, "")

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.sweepCalls, ShouldEqual, 1)

			var res SweepResult
			So(json.Unmarshal(rec.Body.Bytes(), &res), ShouldBeNil)
			So(res.Enqueued, ShouldEqual, 8)
			So(res.Failed, ShouldEqual, 1)
		})

		Convey("A failed fleet enumeration should get 500", func() {
			deps := &fakeDeps{sweepErr: errors.New("db down")}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodGet, "/jobs/schedule", testSecret, "")

			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("POST should not match", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodPost, "/jobs/schedule", testSecret, "")

			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(deps.sweepCalls, ShouldEqual, 0)
		})
	})
}

func TestHandleProcess(t *testing.T) {
	Convey("Given the process endpoint", t, func() {
		valid := `{
			"msg_id": 42,
			"read_ct": 1,
			"message": {"sensorId": "s-1", "kind": "peak"}
		}`

		Convey("A valid message should be processed", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodPost, "/jobs/process", testSecret, valid)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.processCalls, ShouldEqual, 1)
			So(deps.lastMsg.MsgID, ShouldEqual, 42)
			So(deps.lastMsg.ReadCT, ShouldEqual, 1)
			So(deps.lastMsg.Job.SensorID, ShouldEqual, "s-1")
			So(deps.lastMsg.Job.Kind, ShouldEqual, model.KindPeak)

			var ack ackResponse
			So(json.Unmarshal(rec.Body.Bytes(), &ack), ShouldBeNil)
			So(ack.Status, ShouldEqual, http.StatusOK)
			So(ack.StatusMessage, ShouldNotBeEmpty)
		})

		Convey("String-typed identifiers should be coerced", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			body := `{
				"msg_id": "77",
				"read_ct": "2",
				"message": {"sensorId": "s-2", "kind": "anomaly", "userId": "u-1"}
			}`
			rec := doRequest(mux, http.MethodPost, "/jobs/process", testSecret, body)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.lastMsg.MsgID, ShouldEqual, 77)
			So(deps.lastMsg.ReadCT, ShouldEqual, 2)
			So(deps.lastMsg.Job.Kind, ShouldEqual, model.KindAnomaly)
		})

		Convey("A body that is not JSON should get 400", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodPost, "/jobs/process", testSecret, "not json")

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.processCalls, ShouldEqual, 0)
		})

		Convey("An invalid job should get 400 without touching the queue", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			body := `{"msg_id": 1, "read_ct": 1, "message": {"kind": "peak"}}`
			rec := doRequest(mux, http.MethodPost, "/jobs/process", testSecret, body)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.processCalls, ShouldEqual, 0)
		})

		Convey("An unknown kind should get 400", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			body := `{"msg_id": 1, "read_ct": 1, "message": {"sensorId": "s-1", "kind": "frobnicate"}}`
			rec := doRequest(mux, http.MethodPost, "/jobs/process", testSecret, body)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.processCalls, ShouldEqual, 0)
		})

		Convey("A processing failure should get 500", func() {
			deps := &fakeDeps{processErr: errors.New("storage unavailable")}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodPost, "/jobs/process", testSecret, valid)

			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
			So(deps.processCalls, ShouldEqual, 1)
		})

		Convey("GET should not match", func() {
			deps := &fakeDeps{}
			mux := newTestServer(deps)

			rec := doRequest(mux, http.MethodGet, "/jobs/process", testSecret, "")

			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestHandleStats(t *testing.T) {
	Convey("Given the stats endpoint", t, func() {
		deps := &fakeDeps{}
		mux := newTestServer(deps)

		Convey("It should serve the provider's snapshot", func() {
			rec := doRequest(mux, http.MethodGet, "/stats", "", "")

			So(rec.Code, ShouldEqual, http.StatusOK)

			var stats map[string]interface{}
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["queue_depth"], ShouldEqual, 3)
		})
	})
}

func TestFlexInt64(t *testing.T) {
	Convey("Given the flexible integer decoder", t, func() {
		Convey("It should accept numbers and numeric strings", func() {
			var v struct {
				N flexInt64 `json:"n"`
			}
			So(json.Unmarshal([]byte(`{"n": 5}`), &v), ShouldBeNil)
			So(v.N, ShouldEqual, 5)

			So(json.Unmarshal([]byte(`{"n": "12"}`), &v), ShouldBeNil)
			So(v.N, ShouldEqual, 12)
		})

		Convey("It should reject non-numeric values", func() {
			var v struct {
				N flexInt64 `json:"n"`
			}
			So(json.Unmarshal([]byte(`{"n": "abc"}`), &v), ShouldNotBeNil)
			So(json.Unmarshal([]byte(`{"n": true}`), &v), ShouldNotBeNil)
		})
	})
}
