package clock

import (
	"context"
	"time"
)

// RealClock is the wall-clock Clock implementation used in production.
type RealClock struct{}

// NewReal returns a RealClock.
func NewReal() RealClock {
	return RealClock{}
}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until ctx is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
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

// CreateTimer wraps time.AfterFunc.
func (RealClock) CreateTimer(delay time.Duration, callback func()) Timer {
	return &realTimer{inner: time.AfterFunc(delay, callback)}
}

type realTimer struct {
	inner *time.Timer
}

func (t *realTimer) Change(newDelay time.Duration) {
	t.inner.Reset(newDelay)
}

func (t *realTimer) Dispose() {
	t.inner.Stop()
}
