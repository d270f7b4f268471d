// Package ratelimit implements the gateway's request and session limiters.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Config tunes the per-principal token bucket limiter.
type Config struct {
	RPS        float64
	Burst      int
	MaxEntries int
	EntryTTL   time.Duration
}

// DefaultConfig returns limiter settings suitable for the public intake surface.
func DefaultConfig() Config {
	return Config{
		RPS:        10,
		Burst:      20,
		MaxEntries: 10000,
		EntryTTL:   10 * time.Minute,
	}
}

type tokenBucket struct {
	tokens   float64
	lastFill time.Time
	lastSeen time.Time
}

// Limiter applies a token bucket per principal key.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// New creates a limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 10 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow consumes one token for key, reporting whether the request may proceed.
func (l *Limiter) Allow(key string) Decision {
	if l.cfg.RPS <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.cfg.MaxEntries {
			l.gcLocked(now)
		}
		b = &tokenBucket{tokens: float64(l.cfg.Burst), lastFill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(l.cfg.Burst), b.tokens+elapsed*l.cfg.RPS)
		b.lastFill = now
	}
	b.lastSeen = now

	if b.tokens < 1 {
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / l.cfg.RPS * float64(time.Second))
		if wait < time.Second {
			wait = time.Second
		}
		return Decision{Allowed: false, RetryAfter: wait}
	}
	b.tokens--
	return Decision{Allowed: true}
}

// gcLocked evicts buckets idle past the TTL. Caller holds l.mu.
func (l *Limiter) gcLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.EntryTTL {
			delete(l.buckets, k)
		}
	}
}

// PrincipalKeyFromAPIKey derives a stable non-reversible limiter key.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:8])
}

// SessionLimiter caps how many intake sessions a single caller may start
// within a rolling window.
type SessionLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewSessionLimiter creates a session-window limiter.
func NewSessionLimiter(max int, window time.Duration) *SessionLimiter {
	return &SessionLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// Allow records a session start for fingerprint if the caller has capacity
// left in the current window. When denied, RetryAfter reports how long until
// the oldest recorded session falls out of the window.
func (s *SessionLimiter) Allow(fingerprint string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	kept := s.windows[fingerprint][:0]
	for _, ts := range s.windows[fingerprint] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= s.max {
		s.windows[fingerprint] = kept
		retry := kept[0].Add(s.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	s.windows[fingerprint] = append(kept, now)
	return Decision{Allowed: true}
}

// Remaining reports how many sessions fingerprint may still start.
func (s *SessionLimiter) Remaining(fingerprint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	active := 0
	for _, ts := range s.windows[fingerprint] {
		if ts.After(cutoff) {
			active++
		}
	}
	if active >= s.max {
		return 0
	}
	return s.max - active
}

// FingerprintFromParts derives a caller fingerprint. A client-supplied id is
// used verbatim when present; otherwise the remote address is hashed so raw
// addresses never become map keys.
func FingerprintFromParts(clientID, remoteAddr string) string {
	if clientID != "" {
		return "c_" + clientID
	}
	sum := sha256.Sum256([]byte(remoteAddr))
	return "a_" + hex.EncodeToString(sum[:8])
}
