// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/enersight/peakd/internal/domain/model"
)

// Processor runs one queued scan job.
type Processor interface {
	Process(ctx context.Context, msg model.Message) error
}

// ProcessHandler handles queue-trigger requests.
type ProcessHandler struct {
	deps Processor
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(deps Processor) *ProcessHandler {
	return &ProcessHandler{deps: deps}
}

// HandleProcess handles POST /jobs/process requests. The body carries one
// queue message. A payload that fails validation gets a 400 and the
// message is left untouched on the queue; only successful processing
// deletes it.
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	const op = "api.process_job"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.Job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	msg := model.Message{
		MsgID:  int64(req.MsgID),
		ReadCT: int(req.ReadCT),
		Job:    req.Job,
	}
	if err := h.deps.Process(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{StatusMessage: "Processed queue message", Status: http.StatusOK})
}
