package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/clara-health/prearrival/pkg/core"
	"github.com/clara-health/prearrival/pkg/dashboard"
	"github.com/clara-health/prearrival/pkg/syncbus"
)

type sendReportRequest struct {
	SessionID string `json:"sessionId"`
}

type sendReportResponse struct {
	Sent       bool  `json:"sent"`
	Timestamp  int64 `json:"timestamp"`
	PhotoCount int   `json:"photoCount"`
}

// SendReport publishes the session's report to every connected board.
func (h *Handlers) SendReport(w http.ResponseWriter, r *http.Request) {
	var req sendReportRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sess, ok := h.Sessions.Get(req.SessionID)
	if !ok {
		h.writeError(w, core.NewNotFoundError("unknown session"))
		return
	}

	rep := sess.Engine.Report()
	if !rep.Complete() {
		h.writeError(w, core.NewInvalidRequestErrorWithParam(
			"chief complaint is required before sending", "chiefComplaint"))
		return
	}

	snapshot := rep.Snapshot()
	patient := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		patient[k] = v
	}

	now := time.Now().UnixMilli()
	payload := dashboard.NewPatientPayload{
		Patient:   patient,
		Photos:    rep.Photos(),
		Timestamp: now,
	}
	if err := h.Bus.Publish(r.Context(), syncbus.EventNewPatient, payload); err != nil {
		h.writeError(w, core.NewAPIError("report could not be delivered"))
		return
	}
	h.Metrics.EventsPublished.WithLabelValues(string(syncbus.EventNewPatient)).Inc()
	sess.MarkSent()

	h.Logger.Info("report sent", "session_id", sess.ID, "photos", rep.PhotoCount())
	h.writeJSON(w, http.StatusOK, sendReportResponse{
		Sent:       true,
		Timestamp:  now,
		PhotoCount: rep.PhotoCount(),
	})
}

type etaUpdateRequest struct {
	SessionID string `json:"sessionId"`
	ETA       string `json:"eta"`
}

// UpdateETA publishes a fresh arrival estimate for an already-sent report.
func (h *Handlers) UpdateETA(w http.ResponseWriter, r *http.Request) {
	var req etaUpdateRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sess, ok := h.Sessions.Get(req.SessionID)
	if !ok {
		h.writeError(w, core.NewNotFoundError("unknown session"))
		return
	}
	if !sess.Sent() {
		h.writeError(w, core.NewInvalidRequestError("report has not been sent yet"))
		return
	}
	if strings.TrimSpace(req.ETA) == "" {
		h.writeError(w, core.NewInvalidRequestErrorWithParam("eta is required", "eta"))
		return
	}

	if err := h.Bus.Publish(r.Context(), syncbus.EventETAUpdate, dashboard.ETAUpdatePayload{
		PatientID:    dashboard.CurrentPatientID,
		ETA:          req.ETA,
		ETATimestamp: time.Now().UnixMilli(),
	}); err != nil {
		h.writeError(w, core.NewAPIError("eta update could not be delivered"))
		return
	}
	h.Metrics.EventsPublished.WithLabelValues(string(syncbus.EventETAUpdate)).Inc()
	w.WriteHeader(http.StatusNoContent)
}
