package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/birdwatch/internal/ratelimit"
)

func TestTokenBucket_Disabled(t *testing.T) {
	tb := ratelimit.New(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 50; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestTokenBucket_ThrottlesBeyondBurst(t *testing.T) {
	tb := ratelimit.New(1000, 1)
	ctx := context.Background()

	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed <= 0 {
		t.Errorf("expected second Wait to block for a replenishment interval, elapsed=%v", elapsed)
	}
}

func TestTokenBucket_ContextCancellation(t *testing.T) {
	tb := ratelimit.New(0.001, 1)
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := tb.Wait(cancelCtx); err == nil {
		t.Error("expected Wait to return an error once context is cancelled")
	}
}
