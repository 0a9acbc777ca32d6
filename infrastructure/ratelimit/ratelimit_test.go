package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	r := New(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1})
	if !r.Allow() {
		t.Fatal("expected first Allow() to succeed")
	}
}

func TestRateLimiterDefaultConfig(t *testing.T) {
	r := New(RateLimitConfig{})
	if !r.Allow() {
		t.Fatal("expected zero-value config to fall back to a usable default")
	}
}

func TestRateLimiterWait(t *testing.T) {
	r := New(RateLimitConfig{RequestsPerSecond: 1000, Burst: 5})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestRateLimiterReset(t *testing.T) {
	r := New(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	r.Allow()
	if r.LimitExceeded() == false {
		t.Skip("burst not yet exhausted on this run")
	}
	r.Reset()
	if !r.Allow() {
		t.Fatal("expected Allow() to succeed immediately after Reset()")
	}
}

func TestRateLimiterPerMinuteLimitExceeded(t *testing.T) {
	r := New(RateLimitConfig{RequestsPerSecond: 1000, Burst: 2000})
	if r.PerMinuteLimitExceeded() {
		t.Fatal("fresh limiter should not report per-minute limit exceeded")
	}
}
