// Package sessions tracks live intake conversations by id.
package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/clara-health/prearrival/pkg/convo"
)

// Session is one caller's intake conversation and its send state.
type Session struct {
	ID          string
	Engine      *convo.Engine
	Fingerprint string
	CreatedAt   time.Time

	mu         sync.Mutex
	lastActive time.Time
	sent       bool
}

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// MarkSent records that the report for this session reached the dashboard.
func (s *Session) MarkSent() {
	s.mu.Lock()
	s.sent = true
	s.mu.Unlock()
}

// Sent reports whether the report has been sent.
func (s *Session) Sent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Registry holds live sessions with a TTL sweep.
type Registry struct {
	ttl time.Duration

	mu sync.Mutex
	m  map[string]*Session

	onCount func(n int)
}

// NewRegistry creates a registry. Sessions idle longer than ttl are
// removed by Sweep.
func NewRegistry(ttl time.Duration, onCount func(n int)) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{ttl: ttl, m: make(map[string]*Session), onCount: onCount}
}

// Create registers a new session around the given engine.
func (r *Registry) Create(engine *convo.Engine, fingerprint string) *Session {
	now := time.Now()
	s := &Session{
		ID:          "sess_" + randHex(16),
		Engine:      engine,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		lastActive:  now,
	}
	r.mu.Lock()
	r.m[s.ID] = s
	n := len(r.m)
	r.mu.Unlock()
	r.notify(n)
	return s
}

// Get looks up a session and refreshes its activity timestamp.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.m[id]
	r.mu.Unlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Remove drops a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.m, id)
	n := len(r.m)
	r.mu.Unlock()
	r.notify(n)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Sweep removes sessions idle past the TTL and returns how many were dropped.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var stale []string
	for id, s := range r.m {
		if s.idleSince(now) > r.ttl {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.m, id)
	}
	n := len(r.m)
	r.mu.Unlock()
	if len(stale) > 0 {
		r.notify(n)
	}
	return len(stale)
}

func (r *Registry) notify(n int) {
	if r.onCount != nil {
		r.onCount(n)
	}
}

func randHex(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)[:n]
}
