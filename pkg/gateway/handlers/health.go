package handlers

import "net/http"

// Health is the liveness endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyResponse reports readiness and any outstanding issues.
type ReadyResponse struct {
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

// ReadyCheck is the readiness endpoint. It degrades rather than fails when a
// non-critical dependency is down.
func (h *Handlers) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	var issues []string
	if h.Ready != nil {
		issues = h.Ready()
	}
	if len(issues) == 0 {
		h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "degraded", Issues: issues})
}
