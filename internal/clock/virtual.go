package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// VirtualClock is a deterministic Clock for tests. Its Now never advances on
// its own; test code drives it explicitly with Advance. Between Advance
// calls no timer fires and no Sleep returns, matching the "no background
// work occurs between advance calls" requirement engine tests rely on.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	entries map[uint64]*virtualEntry
}

type virtualEntry struct {
	id       uint64
	fireAt   time.Time
	callback func()
	disposed bool
}

// NewVirtual creates a VirtualClock starting at the given time.
func NewVirtual(start time.Time) *VirtualClock {
	return &VirtualClock{
		now:     start,
		entries: make(map[uint64]*virtualEntry),
	}
}

// Now returns the clock's current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep blocks the caller until the clock is advanced by at least d, or
// ctx is cancelled. A zero or negative d returns immediately.
func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	done := make(chan struct{})
	timer := c.CreateTimer(d, func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Dispose()
		return ctx.Err()
	}
}

// CreateTimer schedules callback to run when the clock has advanced by at
// least delay from the current virtual time.
func (c *VirtualClock) CreateTimer(delay time.Duration, callback func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := c.seq
	entry := &virtualEntry{
		id:       id,
		fireAt:   c.now.Add(delay),
		callback: callback,
	}
	c.entries[id] = entry

	return &virtualTimer{clock: c, id: id}
}

// Advance moves the virtual clock forward by d, running every timer
// scheduled at or before the new time, in order of fire time (ties broken
// by schedule order), and finally sets Now to the target time even if
// nothing was scheduled to fire.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *virtualEntry
		for _, e := range c.entries {
			if e.disposed {
				continue
			}
			if e.fireAt.After(target) {
				continue
			}
			if due == nil || e.fireAt.Before(due.fireAt) || (e.fireAt.Equal(due.fireAt) && e.id < due.id) {
				due = e
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}

		c.now = due.fireAt
		delete(c.entries, due.id)
		cb := due.callback
		c.mu.Unlock()

		cb()
	}
}

// PendingCount reports the number of undisposed scheduled timers, useful in
// tests asserting that shutdown disposed everything it should have.
func (c *VirtualClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if !e.disposed {
			n++
		}
	}
	return n
}

// pendingSorted returns undisposed entries ordered by fire time, for tests
// that want to assert firing order without calling Advance.
func (c *VirtualClock) pendingSorted() []*virtualEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*virtualEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.disposed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fireAt.Equal(out[j].fireAt) {
			return out[i].id < out[j].id
		}
		return out[i].fireAt.Before(out[j].fireAt)
	})
	return out
}

type virtualTimer struct {
	clock *VirtualClock
	id    uint64
}

func (t *virtualTimer) Change(newDelay time.Duration) {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[t.id]; ok && !e.disposed {
		e.fireAt = c.now.Add(newDelay)
	}
}

func (t *virtualTimer) Dispose() {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[t.id]; ok {
		e.disposed = true
	}
}
