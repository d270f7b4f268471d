package sessions

import (
	"testing"
	"time"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	s := r.Create(nil, "fp")
	if s.ID == "" {
		t.Fatal("empty session id")
	}

	got, ok := r.Get(s.ID)
	if !ok || got != s {
		t.Fatal("lookup failed")
	}
	if _, ok := r.Get("sess_missing"); ok {
		t.Fatal("found a session that does not exist")
	}

	r.Remove(s.ID)
	if _, ok := r.Get(s.ID); ok {
		t.Fatal("removed session still present")
	}
}

func TestRegistrySweep(t *testing.T) {
	counts := []int{}
	r := NewRegistry(time.Minute, func(n int) { counts = append(counts, n) })

	stale := r.Create(nil, "a")
	fresh := r.Create(nil, "b")
	stale.mu.Lock()
	stale.lastActive = time.Now().Add(-2 * time.Minute)
	stale.mu.Unlock()

	if dropped := r.Sweep(time.Now()); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if _, ok := r.Get(stale.ID); ok {
		t.Fatal("stale session survived sweep")
	}
	if _, ok := r.Get(fresh.ID); !ok {
		t.Fatal("fresh session removed")
	}
	if len(counts) == 0 || counts[len(counts)-1] != 1 {
		t.Fatalf("count notifications = %v", counts)
	}
}

func TestSessionSentLatch(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	s := r.Create(nil, "fp")
	if s.Sent() {
		t.Fatal("new session already marked sent")
	}
	s.MarkSent()
	if !s.Sent() {
		t.Fatal("mark did not stick")
	}
}
