// Package clock abstracts time for the bus engine's message timing: its
// timers, sleeps and message timestamps. Production wiring uses RealClock; tests use
// VirtualClock to drive timers deterministically.
package clock

import (
	"context"
	"time"
)

// Clock is the single time source every engine operation must go through:
// visibility timers, delayed sends, move-task rate limiting, and long-poll
// waits all originate here rather than from the time package directly.
type Clock interface {
	// Now returns the clock's current point in time.
	Now() time.Time

	// Sleep blocks the calling goroutine until d has elapsed on this clock
	// or ctx is cancelled, whichever comes first. Returns ctx.Err() on
	// cancellation, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error

	// CreateTimer schedules callback to run after delay elapses on this
	// clock. The returned Timer can be rescheduled or disposed; disposal is
	// idempotent and guarantees the callback will not run afterward (a
	// callback already in flight is not interrupted).
	CreateTimer(delay time.Duration, callback func()) Timer
}

// Timer is a handle to a single scheduled callback.
type Timer interface {
	// Change reschedules the timer to fire newDelay from the clock's
	// current time, replacing any previously scheduled fire time.
	Change(newDelay time.Duration)

	// Dispose cancels the timer. Safe to call more than once and safe to
	// call after the timer has already fired.
	Dispose()
}
