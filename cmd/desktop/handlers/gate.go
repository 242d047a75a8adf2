package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/gate"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/sync/scheduler"
)

// Broadcaster pushes scan and session events to connected screens.
type Broadcaster interface {
	BroadcastScan(outcome *gate.Outcome)
	BroadcastScanFailed(dayEventID string, err error)
	BroadcastAuthRequired(detail string)
}

// GateHandler handles scans and the offline queue.
type GateHandler struct {
	gate      *gate.Service
	scheduler *scheduler.Scheduler
	hub       Broadcaster
}

// NewGateHandler creates a new GateHandler. hub may be nil.
func NewGateHandler(g *gate.Service, s *scheduler.Scheduler, hub Broadcaster) *GateHandler {
	return &GateHandler{gate: g, scheduler: s, hub: hub}
}

// ScanRequest is the body of POST /api/scan.
type ScanRequest struct {
	Token      string `json:"token"`
	DayEventID string `json:"day_event_id"`
	Action     string `json:"action"`
	Source     string `json:"source"`
}

// Scan handles POST /api/scan
func (h *GateHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid action", err))
		return
	}

	outcome, err := h.gate.Submit(r.Context(), gate.SubmitRequest{
		Token:      req.Token,
		DayEventID: req.DayEventID,
		Action:     action,
		Source:     req.Source,
	})
	if err != nil {
		h.scanFailed(req.DayEventID, err)
		writeError(w, err)
		return
	}

	h.trackConnectivity(r.Context(), outcome.Status)
	if h.hub != nil {
		h.hub.BroadcastScan(outcome)
	}
	status := http.StatusOK
	if outcome.Status == gate.StatusQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

// trackConnectivity feeds scan outcomes to the scheduler so that the first scan
// delivered after an outage flushes the queue.
func (h *GateHandler) trackConnectivity(ctx context.Context, status gate.Status) {
	// The flush outlives the request.
	ctx = context.WithoutCancel(ctx)
	switch status {
	case gate.StatusQueued:
		h.scheduler.SetOnlineStatus(ctx, false)
	case gate.StatusSent:
		h.scheduler.SetOnlineStatus(ctx, true)
	}
}

func (h *GateHandler) scanFailed(dayEventID string, err error) {
	if errors.Is(err, errors.ErrInvalid) {
		return
	}
	logging.ErrorWithCode("scan failed", string(errors.CodeOf(err)), err,
		map[string]interface{}{"day_event_id": dayEventID})
	if h.hub == nil {
		return
	}
	h.hub.BroadcastScanFailed(dayEventID, err)
	if errors.NeedsLogin(err) {
		h.hub.BroadcastAuthRequired(err.Error())
	}
}

// FlushResponse is the body of a successful POST /api/flush.
type FlushResponse struct {
	Sent       int   `json:"sent"`
	DurationMs int64 `json:"duration_ms"`
	Pending    int   `json:"pending"`
}

// Flush handles POST /api/flush
func (h *GateHandler) Flush(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.FlushNow(r.Context())
	if err != nil {
		// Another flush is running.
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Code:  string(errors.CodeOf(err)),
			Error: err.Error(),
		})
		return
	}
	if result.Err != nil {
		if h.hub != nil && errors.NeedsLogin(result.Err) {
			h.hub.BroadcastAuthRequired(result.Err.Error())
		}
		writeError(w, result.Err)
		return
	}

	pending, err := h.gate.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FlushResponse{
		Sent:       result.Sent,
		DurationMs: result.Duration.Milliseconds(),
		Pending:    pending,
	})
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Pending   int                `json:"pending"`
	Items     []models.ScanEvent `json:"items"`
	Online    bool               `json:"online"`
	Flushing  bool               `json:"flushing"`
	LastFlush *time.Time         `json:"last_flush,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

// Queue handles GET /api/queue
func (h *GateHandler) Queue(w http.ResponseWriter, r *http.Request) {
	items, err := h.gate.Coordinator().Queue().Drain(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	status := h.scheduler.GetStatus(r.Context())
	resp := QueueResponse{
		Pending:   len(items),
		Items:     items,
		Online:    status.IsOnline,
		Flushing:  status.InProgress,
		LastFlush: status.LastFlush,
	}
	if status.LastError != nil {
		resp.LastError = status.LastError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
