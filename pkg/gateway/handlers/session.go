package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clara-health/prearrival/pkg/convo"
	"github.com/clara-health/prearrival/pkg/core"
	"github.com/clara-health/prearrival/pkg/dashboard"
	"github.com/clara-health/prearrival/pkg/gateway/ratelimit"
	"github.com/clara-health/prearrival/pkg/report"
	"github.com/clara-health/prearrival/pkg/syncbus"
)

type startSessionResponse struct {
	SessionID         string            `json:"sessionId"`
	Greeting          string            `json:"greeting"`
	Fields            map[string]string `json:"fields,omitempty"`
	Actions           []string          `json:"actions,omitempty"`
	ReportComplete    bool              `json:"reportComplete"`
	SessionsRemaining int               `json:"sessionsRemaining"`
}

// StartSession creates an intake session and returns the opening greeting.
// Session starts are capped per caller fingerprint over a rolling window.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	fp := ratelimit.FingerprintFromParts(r.Header.Get("X-Client-Id"), r.RemoteAddr)

	d := h.SessionLimiter.Allow(fp)
	if !d.Allowed {
		h.Metrics.SessionsDenied.Inc()
		secs := int(d.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		h.writeError(w, core.NewRateLimitError("session limit reached, try again later", secs))
		return
	}

	engine := h.NewEngine()
	res := engine.Start(r.Context())
	sess := h.Sessions.Create(engine, fp)
	h.Metrics.SessionsStarted.Inc()

	h.Logger.Info("session started", "session_id", sess.ID)
	h.writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID:         sess.ID,
		Greeting:          res.Reply,
		Fields:            res.Fields,
		Actions:           res.Actions,
		ReportComplete:    res.ReportComplete,
		SessionsRemaining: h.SessionLimiter.Remaining(fp),
	})
}

type photoPayload struct {
	Base64      string `json:"base64"`
	MIMEType    string `json:"mimeType"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Description string `json:"description,omitempty"`
}

type messageRequest struct {
	Text  string        `json:"text"`
	Photo *photoPayload `json:"photo,omitempty"`
}

type messageResponse struct {
	Reply          string            `json:"reply"`
	Fields         map[string]string `json:"fields,omitempty"`
	Actions        []string          `json:"actions,omitempty"`
	ReportComplete bool              `json:"reportComplete"`
	ReportUpdated  bool              `json:"reportUpdated"`
	Report         map[string]string `json:"report"`
	PhotoCount     int               `json:"photoCount"`
}

// SendMessage relays one user turn to the session's conversation engine.
// After the report has been sent, field updates also flow to the dashboard
// as live update events.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.Sessions.Get(r.PathValue("id"))
	if !ok {
		h.writeError(w, core.NewNotFoundError("unknown session"))
		return
	}

	var req messageRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.Photo == nil {
		h.writeError(w, core.NewInvalidRequestErrorWithParam("text or photo is required", "text"))
		return
	}
	if req.Photo != nil {
		if err := validatePhoto(req.Photo); err != nil {
			h.writeError(w, err)
			return
		}
	}

	start := time.Now()
	var res *convo.Result
	var err error
	if req.Photo != nil {
		res, err = sess.Engine.SendWithImage(r.Context(), req.Text, convo.Image{
			Base64:   req.Photo.Base64,
			MIMEType: req.Photo.MIMEType,
		})
	} else {
		res, err = sess.Engine.Send(r.Context(), req.Text)
	}
	h.Metrics.ModelRequestDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	if err != nil {
		h.Metrics.ModelRequestErrors.WithLabelValues("chat").Inc()
		h.writeError(w, err)
		return
	}

	if req.Photo != nil {
		sess.Engine.Report().AddPhoto(report.Photo{
			ID:          "photo_" + uuid.NewString()[:8],
			Base64:      req.Photo.Base64,
			MIMEType:    req.Photo.MIMEType,
			Thumbnail:   req.Photo.Thumbnail,
			Description: req.Photo.Description,
			Timestamp:   time.Now(),
		})
	}

	h.publishLiveUpdates(r, sess.Sent(), res.Fields)

	// Announce the first turn on which the minimum report is gathered.
	if res.ReportComplete {
		if err := h.Bus.Publish(r.Context(), syncbus.EventReportComplete, map[string]any{
			"sessionId": sess.ID,
			"timestamp": time.Now().UnixMilli(),
		}); err != nil {
			h.Logger.Warn("publish report complete", "error", err)
		} else {
			h.Metrics.EventsPublished.WithLabelValues(string(syncbus.EventReportComplete)).Inc()
		}
	}

	rep := sess.Engine.Report()
	h.writeJSON(w, http.StatusOK, messageResponse{
		Reply:          res.Reply,
		Fields:         res.Fields,
		Actions:        res.Actions,
		ReportComplete: sess.Engine.ReportComplete(),
		ReportUpdated:  sess.Engine.ReportUpdated(),
		Report:         rep.Snapshot(),
		PhotoCount:     rep.PhotoCount(),
	})
}

// publishLiveUpdates forwards post-send field changes to the board. The
// receiving side resolves the newest patient for these events.
func (h *Handlers) publishLiveUpdates(r *http.Request, sent bool, fields map[string]string) {
	if !sent || len(fields) == 0 {
		return
	}
	now := time.Now().UnixMilli()

	updates := make(map[string]any, len(fields))
	for k, v := range fields {
		updates[k] = v
	}
	if err := h.Bus.Publish(r.Context(), syncbus.EventPatientUpdate, dashboard.PatientUpdatePayload{
		PatientID: dashboard.CurrentPatientID,
		Updates:   updates,
		Timestamp: now,
	}); err != nil {
		h.Logger.Warn("publish patient update", "error", err)
	} else {
		h.Metrics.EventsPublished.WithLabelValues(string(syncbus.EventPatientUpdate)).Inc()
	}

	if eta, ok := fields["eta"]; ok {
		if err := h.Bus.Publish(r.Context(), syncbus.EventETAUpdate, dashboard.ETAUpdatePayload{
			PatientID:    dashboard.CurrentPatientID,
			ETA:          eta,
			ETATimestamp: now,
		}); err != nil {
			h.Logger.Warn("publish eta update", "error", err)
		} else {
			h.Metrics.EventsPublished.WithLabelValues(string(syncbus.EventETAUpdate)).Inc()
		}
	}
}

func validatePhoto(p *photoPayload) error {
	if p.Base64 == "" {
		return core.NewInvalidRequestErrorWithParam("photo base64 is required", "photo.base64")
	}
	raw := p.Base64
	if i := strings.Index(raw, ";base64,"); i >= 0 {
		raw = raw[i+len(";base64,"):]
	}
	if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
		return core.NewInvalidRequestErrorWithParam("photo base64 is not valid", "photo.base64")
	}
	if p.MIMEType != "" && !strings.HasPrefix(p.MIMEType, "image/") {
		return core.NewInvalidRequestErrorWithParam("photo mime type must be an image type", "photo.mimeType")
	}
	return nil
}

type speechRequest struct {
	Text string `json:"text"`
}

type speechResponse struct {
	Audio      string `json:"audio"`
	MIMEType   string `json:"mimeType"`
	SampleRate int    `json:"sampleRate,omitempty"`
	PCM        bool   `json:"pcm"`
}

// Speech synthesizes spoken audio for a reply so voice mode clients can
// play it back.
func (h *Handlers) Speech(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.Sessions.Get(r.PathValue("id")); !ok {
		h.writeError(w, core.NewNotFoundError("unknown session"))
		return
	}
	if h.Synth == nil {
		h.writeError(w, &core.Error{Type: core.ErrOverloaded, Message: "speech synthesis unavailable"})
		return
	}

	var req speechRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(w, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}

	start := time.Now()
	syn, err := h.Synth.Synthesize(r.Context(), req.Text)
	h.Metrics.ModelRequestDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	if err != nil {
		h.Metrics.ModelRequestErrors.WithLabelValues("tts").Inc()
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, speechResponse{
		Audio:      base64.StdEncoding.EncodeToString(syn.Audio),
		MIMEType:   syn.MIMEType,
		SampleRate: syn.SampleRate,
		PCM:        syn.PCM,
	})
}

// ReviewReport asks the model to read the collected report back to the
// caller, conversationally, for hands-free review.
func (h *Handlers) ReviewReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.Sessions.Get(r.PathValue("id"))
	if !ok {
		h.writeError(w, core.NewNotFoundError("unknown session"))
		return
	}

	msg := "User wants you to read the report aloud. Here's the current data:\n" +
		sess.Engine.Report().SummaryContext() +
		"\nRead this naturally and conversationally, then ask if they want to send or change anything."

	start := time.Now()
	res, err := sess.Engine.Send(r.Context(), msg)
	h.Metrics.ModelRequestDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	if err != nil {
		h.Metrics.ModelRequestErrors.WithLabelValues("chat").Inc()
		h.writeError(w, err)
		return
	}

	rep := sess.Engine.Report()
	h.writeJSON(w, http.StatusOK, messageResponse{
		Reply:          res.Reply,
		Fields:         res.Fields,
		Actions:        res.Actions,
		ReportComplete: sess.Engine.ReportComplete(),
		ReportUpdated:  sess.Engine.ReportUpdated(),
		Report:         rep.Snapshot(),
		PhotoCount:     rep.PhotoCount(),
	})
}

// EndSession drops a session. Idempotent.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
