package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow(1); err != nil {
			t.Fatalf("unlimited limiter refused request %d: %v", i, err)
		}
	}
}

func TestLimiter_BurstExhausted(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 10, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow(1); err != nil {
			t.Fatalf("request %d within burst refused: %v", i, err)
		}
	}
	if err := l.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestLimiter_ChatsIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 10, BurstSize: 1})

	if err := l.Allow(1); err != nil {
		t.Fatalf("chat 1 first request: %v", err)
	}
	if err := l.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Fatal("chat 1 should be exhausted")
	}
	if err := l.Allow(2); err != nil {
		t.Fatalf("chat 2 must have its own bucket: %v", err)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow(1); err != nil {
		t.Fatalf("first request: %v", err)
	}
	// Manually age the bucket one second: at 60/min that refills one token.
	l.mu.Lock()
	l.chats[1].lastFill = l.chats[1].lastFill.Add(-1100 * time.Millisecond)
	l.mu.Unlock()

	if err := l.Allow(1); err != nil {
		t.Fatalf("request after refill window: %v", err)
	}
}
