// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/enersight/peakd/internal/adapters/mq/scheduler"
	"github.com/enersight/peakd/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Sweep enumerates the sensor fleet and enqueues one scan job per
	// sensor and kind for the due half-hour window.
	Sweep(ctx context.Context) (scheduler.SweepResult, error)

	// Process runs one queued scan job end to end: detect, persist,
	// attribute or notify, then delete the message on success.
	Process(ctx context.Context, msg model.Message) error
}

// Server wires HTTP routes for the job API.
type Server struct {
	scheduleHandler *ScheduleHandler
	processHandler  *ProcessHandler
	statsHandler    *StatsHandler
	healthHandler   *HealthHandler
	secret          string
}

// NewServer creates a new API server with all handlers. The secret guards
// the job-trigger endpoints; an empty secret rejects every request.
func NewServer(deps Dependencies, statsProvider StatsProvider, secret string) *Server {
	return &Server{
		scheduleHandler: NewScheduleHandler(deps),
		processHandler:  NewProcessHandler(deps),
		statsHandler:    NewStatsHandler(statsProvider),
		healthHandler:   NewHealthHandler(),
		secret:          secret,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/jobs/schedule", MetricsMiddleware(
		AuthMiddleware(s.secret, s.scheduleHandler.HandleSchedule), "schedule"))
	mux.HandleFunc("/jobs/process", MetricsMiddleware(
		AuthMiddleware(s.secret, s.processHandler.HandleProcess), "process"))
}

// flexInt64 accepts both JSON numbers and numeric strings. Queue-trigger
// infrastructure is inconsistent about how it serializes message IDs, so
// the endpoint tolerates either form.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", data)
	}
	*f = flexInt64(n)
	return nil
}

// jobRequest mirrors the queue message shape for POST /jobs/process.
type jobRequest struct {
	MsgID  flexInt64     `json:"msg_id"`
	ReadCT flexInt64     `json:"read_ct"`
	Job    model.ScanJob `json:"message"`
}

type ackResponse struct {
	StatusMessage string `json:"statusMessage"`
	Status        int    `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
