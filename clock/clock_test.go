package clock

import (
	"context"
	"testing"
	"time"
)

func TestSimulatedAdvancesOnSleep(t *testing.T) {
	c := NewSimulated(1000)
	if got := c.NowNanoseconds(); got != 1000 {
		t.Fatalf("NowNanoseconds = %d, want 1000", got)
	}
	if err := c.Sleep(context.Background(), 500*time.Nanosecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if got := c.NowNanoseconds(); got != 1500 {
		t.Fatalf("NowNanoseconds = %d, want 1500", got)
	}
}

func TestSimulatedSleepRespectsCancellation(t *testing.T) {
	c := NewSimulated(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected cancellation error")
	}
	if got := c.NowNanoseconds(); got != 0 {
		t.Fatalf("clock advanced despite cancellation: %d", got)
	}
}

func TestRealClockMonotonicallyNonDecreasing(t *testing.T) {
	r := New()
	a := r.NowNanoseconds()
	b := r.NowNanoseconds()
	if b < a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}
}
