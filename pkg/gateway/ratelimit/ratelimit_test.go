package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 3})
	for i := 0; i < 3; i++ {
		if d := l.Allow("k"); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	d := l.Allow("k")
	if d.Allowed {
		t.Fatal("fourth request allowed")
	}
	if d.RetryAfter < time.Second {
		t.Fatalf("retry after = %v, want >= 1s", d.RetryAfter)
	}
}

func TestLimiterRefills(t *testing.T) {
	now := time.Now()
	l := New(Config{RPS: 2, Burst: 2})
	l.now = func() time.Time { return now }

	l.Allow("k")
	l.Allow("k")
	if d := l.Allow("k"); d.Allowed {
		t.Fatal("exhausted bucket allowed")
	}

	now = now.Add(time.Second)
	if d := l.Allow("k"); !d.Allowed {
		t.Fatal("refilled bucket denied")
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	if d := l.Allow("a"); !d.Allowed {
		t.Fatal("a denied")
	}
	if d := l.Allow("b"); !d.Allowed {
		t.Fatal("b denied")
	}
	if d := l.Allow("a"); d.Allowed {
		t.Fatal("a allowed past burst")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(Config{RPS: 0, Burst: 0})
	for i := 0; i < 100; i++ {
		if d := l.Allow("k"); !d.Allowed {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestSessionLimiterWindow(t *testing.T) {
	now := time.Now()
	s := NewSessionLimiter(3, 24*time.Hour)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if d := s.Allow("fp"); !d.Allowed {
			t.Fatalf("session %d denied", i)
		}
	}
	d := s.Allow("fp")
	if d.Allowed {
		t.Fatal("fourth session allowed")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("retry after = %v", d.RetryAfter)
	}
	if got := s.Remaining("fp"); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}

	// The oldest entry ages out and frees a slot.
	now = now.Add(24*time.Hour + time.Minute)
	if d := s.Allow("fp"); !d.Allowed {
		t.Fatal("session denied after window rolled")
	}
}

func TestSessionLimiterIsolatesFingerprints(t *testing.T) {
	s := NewSessionLimiter(1, time.Hour)
	if d := s.Allow("a"); !d.Allowed {
		t.Fatal("a denied")
	}
	if d := s.Allow("b"); !d.Allowed {
		t.Fatal("b denied")
	}
	if d := s.Allow("a"); d.Allowed {
		t.Fatal("a allowed past cap")
	}
}

func TestFingerprintFromParts(t *testing.T) {
	if got := FingerprintFromParts("dev-123", "1.2.3.4:99"); got != "c_dev-123" {
		t.Fatalf("client fingerprint = %q", got)
	}
	hashed := FingerprintFromParts("", "1.2.3.4:99")
	if hashed == "" || hashed[:2] != "a_" {
		t.Fatalf("hashed fingerprint = %q", hashed)
	}
	if again := FingerprintFromParts("", "1.2.3.4:99"); again != hashed {
		t.Fatal("hash not stable")
	}
	if other := FingerprintFromParts("", "5.6.7.8:11"); other == hashed {
		t.Fatal("distinct addresses collide")
	}
}

func TestPrincipalKeyFromAPIKey(t *testing.T) {
	k1 := PrincipalKeyFromAPIKey("secret-a")
	k2 := PrincipalKeyFromAPIKey("secret-a")
	k3 := PrincipalKeyFromAPIKey("secret-b")
	if k1 != k2 {
		t.Fatal("key not stable")
	}
	if k1 == k3 {
		t.Fatal("distinct keys collide")
	}
	if k1[:2] != "k_" {
		t.Fatalf("key prefix = %q", k1[:2])
	}
}
