package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/clara-health/prearrival/pkg/core"
	"github.com/clara-health/prearrival/pkg/dashboard"
	"github.com/clara-health/prearrival/pkg/syncbus"
)

// patientView decorates a patient with the rendered countdown string so
// clients do not reimplement the display rules.
type patientView struct {
	*dashboard.Patient
	ETADisplay string `json:"etaDisplay"`
}

type patientListResponse struct {
	Patients []patientView `json:"patients"`
	Count    int           `json:"count"`
}

func buildPatientViews(ps []*dashboard.Patient, now time.Time) []patientView {
	views := make([]patientView, 0, len(ps))
	for _, p := range ps {
		views = append(views, patientView{Patient: p, ETADisplay: p.ETADisplay(now)})
	}
	return views
}

// ListPatients returns the board, sorted by the requested mode.
func (h *Handlers) ListPatients(w http.ResponseWriter, r *http.Request) {
	mode := dashboard.SortMode(strings.TrimSpace(r.URL.Query().Get("sort")))
	ps := h.Store.Patients(mode)
	h.writeJSON(w, http.StatusOK, patientListResponse{
		Patients: buildPatientViews(ps, time.Now()),
		Count:    len(ps),
	})
}

// GetPatient returns one patient by id.
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Store.Patient(r.PathValue("id"))
	if !ok {
		h.writeError(w, core.NewNotFoundError("unknown patient"))
		return
	}
	h.writeJSON(w, http.StatusOK, patientView{Patient: p, ETADisplay: p.ETADisplay(time.Now())})
}

type statusResponse struct {
	PatientID string `json:"patientId"`
	Status    string `json:"status"`
}

// AdvanceStatus cycles a patient's status and broadcasts the change so
// every board converges. The local store applies the event through the
// same path as remote nodes.
func (h *Handlers) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := h.Store.Patient(id)
	if !ok {
		h.writeError(w, core.NewNotFoundError("unknown patient"))
		return
	}
	next := dashboard.NextStatus(p.Status)

	if err := h.Bus.Publish(r.Context(), syncbus.EventStatusChange, dashboard.StatusChangePayload{
		PatientID: id,
		Status:    string(next),
	}); err != nil {
		h.writeError(w, core.NewAPIError("status change could not be delivered"))
		return
	}
	h.Metrics.EventsPublished.WithLabelValues(string(syncbus.EventStatusChange)).Inc()
	h.writeJSON(w, http.StatusOK, statusResponse{PatientID: id, Status: string(next)})
}

type noteRequest struct {
	Text string `json:"text"`
}

// AddNote attaches a staff note to a patient. Notes stay on this board.
func (h *Handlers) AddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(w, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}
	if err := h.Store.AddNote(r.PathValue("id"), req.Text); err != nil {
		h.writeError(w, core.NewNotFoundError("unknown patient"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
