package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	tests := []struct {
		name              string
		rate, burst       float64
		wantRate, wantCap float64
	}{
		{"explicit", 5, 10, 5, 10},
		{"zero rate", 0, 0, 10, 20},
		{"burst below rate", 8, 2, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.rate, tt.burst)
			if rl.rate != tt.wantRate || rl.burst != tt.wantCap {
				t.Errorf("got rate=%v burst=%v, want %v/%v", rl.rate, rl.burst, tt.wantRate, tt.wantCap)
			}
		})
	}
}

func TestRateLimiter_AllowConsumesBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }
	rl.lastRefill = frozen

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after burst = true, want false")
	}

	// через секунду появляется один токен
	frozen = frozen.Add(time.Second)
	if !rl.Allow() {
		t.Error("Allow() after refill = false, want true")
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestKeyedLimiter_IsolatesKeys(t *testing.T) {
	kl := NewKeyedLimiter(1, 1)

	if !kl.Allow("u1") {
		t.Fatal("u1 first Allow = false")
	}
	if kl.Allow("u1") {
		t.Error("u1 second Allow = true, bucket should be empty")
	}
	if !kl.Allow("u2") {
		t.Error("u2 must have its own bucket")
	}
	if kl.Len() != 2 {
		t.Errorf("Len = %d, want 2", kl.Len())
	}
	if kl.Get("u1") != kl.Get("u1") {
		t.Error("Get must return the same limiter for the same key")
	}
}
