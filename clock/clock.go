// Package clock abstracts time so retry backoff and deterministic
// simulated tests never call time.Now/time.Sleep directly, generalizing
// the teacher's direct use of those calls in graph/policy.go's
// computeBackoff into an injectable interface.
package clock

import (
	"context"
	"time"
)

// Clock is the time source every time-dependent component consumes.
type Clock interface {
	// NowNanoseconds returns the current time as nanoseconds since the
	// Unix epoch.
	NowNanoseconds() int64
	// Sleep blocks for d, or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by the operating system's clock.
type Real struct{}

// New returns the system Clock.
func New() Clock { return Real{} }

func (Real) NowNanoseconds() int64 { return time.Now().UnixNano() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
