package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clara-health/prearrival/pkg/dashboard"
)

const (
	wsWriteWait     = 10 * time.Second
	wsSendBuffer    = 16
	wsMaxReadBytes  = 1024
)

// Hub fans dashboard updates out to connected websocket clients.
type Hub struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	onCount      func(n int)

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. With an empty origin allowlist the upgrader's
// same-origin default applies.
func NewHub(logger *slog.Logger, allowedOrigins map[string]struct{}, pingInterval time.Duration, onCount func(n int)) *Hub {
	h := &Hub{
		logger:       logger,
		pingInterval: pingInterval,
		onCount:      onCount,
		clients:      make(map[*wsClient]struct{}),
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowedOrigins["*"]; ok {
				return true
			}
			_, ok := allowedOrigins[origin]
			return ok
		}
	}
	return h
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. Clients that cannot keep up are
// dropped rather than blocking the board.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	var stale []*wsClient
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if len(stale) > 0 {
		h.logger.Warn("dropped slow dashboard clients", "count", len(stale))
		h.notify(n)
	}
}

// Serve upgrades the connection, sends the initial snapshot, and runs the
// client until it disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	c.send <- initial

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.notify(n)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if present {
		h.notify(n)
	}
	_ = c.conn.Close()
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(wsWriteWait))
				_ = c.conn.Close()
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client frames; the dashboard socket is push-only.
func (h *Hub) readPump(c *wsClient) {
	c.conn.SetReadLimit(wsMaxReadBytes)
	deadline := func() time.Time { return time.Now().Add(2*h.pingInterval + time.Second) }
	_ = c.conn.SetReadDeadline(deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(deadline())
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) notify(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// wsMessage is the envelope pushed to dashboard clients.
type wsMessage struct {
	Type     string        `json:"type"`
	Patients []patientView `json:"patients"`
	Count    int           `json:"count"`
}

// PatientListMessage renders the full board as a push message.
func (h *Handlers) PatientListMessage() []byte {
	ps := h.Store.Patients(dashboard.SortByReceived)
	msg := wsMessage{
		Type:     "patients",
		Patients: buildPatientViews(ps, time.Now()),
		Count:    len(ps),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.Logger.Warn("encode patient list", "error", err)
		return []byte(`{"type":"patients","patients":[],"count":0}`)
	}
	return b
}

// DashboardWS upgrades a board client and streams patient list updates.
func (h *Handlers) DashboardWS(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		http.Error(w, "websocket unavailable", http.StatusServiceUnavailable)
		return
	}
	h.Hub.Serve(w, r, h.PatientListMessage())
}
