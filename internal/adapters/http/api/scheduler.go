// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/enersight/peakd/internal/adapters/mq/scheduler"
)

// Sweeper fans scan jobs out over the sensor fleet.
type Sweeper interface {
	Sweep(ctx context.Context) (scheduler.SweepResult, error)
}

// ScheduleHandler handles fan-out trigger requests.
type ScheduleHandler struct {
	deps Sweeper
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(deps Sweeper) *ScheduleHandler {
	return &ScheduleHandler{deps: deps}
}

// HandleSchedule handles GET /jobs/schedule requests. A sweep that fails
// for individual sensors still succeeds; the counts in the response tell
// the caller how it went.
func (h *ScheduleHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	const op = "api.schedule_jobs"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	res, err := h.deps.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
