package ratelimit

import (
	"testing"
	"time"

	"collabhub/internal/config"
)

func testLimiter() (*Limiter, *time.Time) {
	cfg := config.DefaultConfig().RateLimits
	l := NewLimiter(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestWindowLimit(t *testing.T) {
	l, now := testLimiter()

	for i := 0; i < 30; i++ {
		if ok, _ := l.CheckAndConsume("alice", ClassMessage); !ok {
			t.Fatalf("message %d denied, want allowed", i+1)
		}
	}

	ok, retry := l.CheckAndConsume("alice", ClassMessage)
	if ok {
		t.Fatal("31st message allowed, want denied")
	}
	if retry <= 0 || retry > 60 {
		t.Errorf("retryAfter = %d, want within (0, 60]", retry)
	}

	// Still blocked partway through the window.
	*now = now.Add(30 * time.Second)
	if ok, retry := l.CheckAndConsume("alice", ClassMessage); ok || retry > 30 {
		t.Errorf("mid-window: allowed=%v retry=%d", ok, retry)
	}

	// A fresh window opens after the original window ends.
	*now = now.Add(31 * time.Second)
	if ok, _ := l.CheckAndConsume("alice", ClassMessage); !ok {
		t.Error("message after window expiry denied")
	}
}

func TestClassesAreIndependent(t *testing.T) {
	l, _ := testLimiter()

	for i := 0; i < 30; i++ {
		l.CheckAndConsume("alice", ClassMessage)
	}
	if ok, _ := l.CheckAndConsume("alice", ClassMessage); ok {
		t.Fatal("message should be blocked")
	}
	if ok, _ := l.CheckAndConsume("alice", ClassTyping); !ok {
		t.Error("typing should not share the message window")
	}
	if ok, _ := l.CheckAndConsume("bob", ClassMessage); !ok {
		t.Error("bob should not share alice's window")
	}
}

func TestBurstGuard(t *testing.T) {
	cfg := config.DefaultConfig().RateLimits
	cfg.Message = config.Rule{Limit: 1000, Window: time.Minute}
	cfg.MessageBurst = config.Rule{Limit: 5, Window: time.Minute}
	l := NewLimiter(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	// Primary window is generous here; the burst cap of 5 trips first.
	for i := 0; i < 5; i++ {
		if ok, _ := l.CheckAndConsume("alice", ClassMessage); !ok {
			t.Fatalf("message %d denied before burst cap", i+1)
		}
	}
	ok, retry := l.CheckAndConsume("alice", ClassMessage)
	if ok {
		t.Fatal("burst cap not enforced")
	}
	if retry <= 0 {
		t.Errorf("retryAfter = %d, want positive", retry)
	}

	// After the trailing window slides past the early stamps the user
	// can send again.
	now = now.Add(cfg.MessageBurst.Window + time.Second)
	if ok, _ := l.CheckAndConsume("alice", ClassMessage); !ok {
		t.Error("message denied after burst window passed")
	}
}

func TestUnlimitedClassAlwaysAllowed(t *testing.T) {
	l, _ := testLimiter()
	for i := 0; i < 500; i++ {
		if ok, _ := l.CheckAndConsume("alice", Class("ping")); !ok {
			t.Fatal("unlimited class denied")
		}
	}
}

func TestCleanupDropsStaleState(t *testing.T) {
	l, now := testLimiter()

	l.CheckAndConsume("alice", ClassMessage)
	l.CheckAndConsume("bob", ClassCursor)
	if w, b := l.Stats(); w != 2 || b != 1 {
		t.Fatalf("stats before cleanup = %d windows %d bursts", w, b)
	}

	*now = now.Add(2 * time.Minute)
	l.Cleanup()
	if w, b := l.Stats(); w != 0 || b != 0 {
		t.Errorf("stats after cleanup = %d windows %d bursts, want 0 0", w, b)
	}
}

func TestReset(t *testing.T) {
	l, _ := testLimiter()
	for i := 0; i < 31; i++ {
		l.CheckAndConsume("alice", ClassMessage)
	}
	if ok, _ := l.CheckAndConsume("alice", ClassMessage); ok {
		t.Fatal("expected alice blocked")
	}
	l.Reset("alice")
	if ok, _ := l.CheckAndConsume("alice", ClassMessage); !ok {
		t.Error("alice still blocked after Reset")
	}
}
