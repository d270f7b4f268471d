// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clara-health/prearrival/pkg/core"
	"github.com/clara-health/prearrival/pkg/dashboard"
	"github.com/clara-health/prearrival/pkg/gateway/config"
	"github.com/clara-health/prearrival/pkg/gateway/metrics"
	"github.com/clara-health/prearrival/pkg/gateway/ratelimit"
	"github.com/clara-health/prearrival/pkg/gateway/sessions"
	"github.com/clara-health/prearrival/pkg/syncbus"
	"github.com/clara-health/prearrival/pkg/voice/tts"

	"github.com/clara-health/prearrival/pkg/convo"
)

// Deps carries everything the endpoints need. All fields are required
// unless noted.
type Deps struct {
	Logger         *slog.Logger
	Cfg            config.Config
	Sessions       *sessions.Registry
	SessionLimiter *ratelimit.SessionLimiter
	NewEngine      func() *convo.Engine
	Bus            *syncbus.Bus
	Store          *dashboard.Store
	Metrics        *metrics.Metrics
	Synth          tts.Synthesizer // optional; speech endpoint 503s when nil
	Hub            *Hub
	Ready          func() []string // readiness issues, nil when healthy
}

// Handlers is the endpoint set.
type Handlers struct {
	Deps
}

// New validates nothing beyond nil logger; wiring errors surface at request time.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{Deps: d}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("encode response", "error", err)
	}
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = core.NewAPIError("internal server error")
	}
	h.writeJSON(w, statusFor(ce), errorEnvelope{Error: ce})
}

func statusFor(e *core.Error) int {
	switch e.Type {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return http.StatusServiceUnavailable
	case core.ErrProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body with the configured size cap.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.NewInvalidRequestError("malformed JSON body: " + err.Error())
	}
	return nil
}
