// Package server assembles the gateway's HTTP surface.
package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/clara-health/prearrival/pkg/gateway/config"
	"github.com/clara-health/prearrival/pkg/gateway/handlers"
	"github.com/clara-health/prearrival/pkg/gateway/metrics"
	"github.com/clara-health/prearrival/pkg/gateway/mw"
	"github.com/clara-health/prearrival/pkg/gateway/ratelimit"
)

// Server owns the mux, middleware chain and http.Server lifecycle.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	handlers *handlers.Handlers
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics

	httpServer *http.Server
}

// New builds a server around the endpoint set.
func New(cfg config.Config, logger *slog.Logger, h *handlers.Handlers, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
		metrics:  m,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.LimitRPS,
			Burst: cfg.LimitBurst,
		}),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handlers.Health)
	mux.HandleFunc("GET /readyz", s.handlers.ReadyCheck)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /v1/session", s.handlers.StartSession)
	mux.HandleFunc("POST /v1/session/{id}/message", s.handlers.SendMessage)
	mux.HandleFunc("POST /v1/session/{id}/speech", s.handlers.Speech)
	mux.HandleFunc("POST /v1/session/{id}/review", s.handlers.ReviewReport)
	mux.HandleFunc("DELETE /v1/session/{id}", s.handlers.EndSession)

	mux.HandleFunc("POST /v1/report/send", s.handlers.SendReport)
	mux.HandleFunc("POST /v1/report/eta", s.handlers.UpdateETA)

	mux.HandleFunc("GET /v1/dashboard/patients", s.handlers.ListPatients)
	mux.HandleFunc("GET /v1/dashboard/patients/{id}", s.handlers.GetPatient)
	mux.HandleFunc("POST /v1/dashboard/patients/{id}/status", s.handlers.AdvanceStatus)
	mux.HandleFunc("POST /v1/dashboard/patients/{id}/notes", s.handlers.AddNote)
	mux.HandleFunc("GET /v1/dashboard/ws", s.handlers.DashboardWS)

	return mux
}

// Handler wires the middleware chain around the mux. Order matters: the
// request id must exist before logging, and auth must resolve the principal
// before the limiter keys on it.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.instrument(s.routes())
	h = mw.RateLimit(s.limiter, s.metrics.RateLimitHits.Inc, h)
	h = mw.Auth(s.cfg, s.logger, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// ListenAndServe runs the server until the listener fails or is closed.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
