package stream

import (
	"context"
	"testing"
	"time"
)

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{0, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.attempt); got != tt.want {
			t.Errorf("nextBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWindowLimiterUnderLimit(t *testing.T) {
	l := newWindowLimiter(5, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("under-limit waits should not block, took %v", elapsed)
	}
}

func TestWindowLimiterBlocksAtLimit(t *testing.T) {
	l := newWindowLimiter(1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("second wait should block until cancellation, got %v", err)
	}
}

func TestWindowLimiterZeroMeansUnlimited(t *testing.T) {
	l := newWindowLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		if err := l.wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	l := newWindowLimiter(2, 20*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	// Window rolls over; the next wait should succeed quickly.
	start := time.Now()
	if err := l.wait(ctx); err != nil {
		t.Fatalf("post-window wait: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("limiter did not reset after window elapsed")
	}
}
