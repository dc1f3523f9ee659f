package bus

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// MoveTaskStatus is a move task's lifecycle state (spec.md §4.6).
type MoveTaskStatus int

const (
	MoveTaskRunning MoveTaskStatus = iota
	MoveTaskCancelled
	MoveTaskCompleted
)

func (s MoveTaskStatus) String() string {
	switch s {
	case MoveTaskRunning:
		return "RUNNING"
	case MoveTaskCancelled:
		return "CANCELLED"
	case MoveTaskCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// MoveTask is a background job draining a dead-letter queue back to a
// destination at a bounded rate. Only one Running task may exist per
// source queue at a time (enforced by the move-task engine).
type MoveTask struct {
	Handle      string
	SourceArn   string
	DestArn     string // empty means "each message's own DLQ source arn"
	MaxPerSecond int

	startedAt time.Time

	status  atomic.Int32
	moved   atomic.Int64
	toMove  atomic.Int64

	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

func newMoveTask(handle, sourceArn, destArn string, maxPerSecond int, toMove int64) *MoveTask {
	if maxPerSecond <= 0 {
		maxPerSecond = 1
	}
	t := &MoveTask{
		Handle:       handle,
		SourceArn:    sourceArn,
		DestArn:      destArn,
		MaxPerSecond: maxPerSecond,
		startedAt:    time.Now().UTC(),
		limiter:      rate.NewLimiter(rate.Limit(maxPerSecond), 1),
		done:         make(chan struct{}),
	}
	t.status.Store(int32(MoveTaskRunning))
	t.toMove.Store(toMove)
	return t
}

// Status returns the task's current lifecycle state.
func (t *MoveTask) Status() MoveTaskStatus {
	return MoveTaskStatus(t.status.Load())
}

// Moved returns the running count of messages successfully moved.
func (t *MoveTask) Moved() int64 { return t.moved.Load() }

// ToMove returns the snapshot of messages approximately remaining to move,
// taken when the task started.
func (t *MoveTask) ToMove() int64 { return t.toMove.Load() }

func (t *MoveTask) markCompleted() {
	t.status.CompareAndSwap(int32(MoveTaskRunning), int32(MoveTaskCompleted))
	t.stop()
}

func (t *MoveTask) markCancelled() {
	t.status.CompareAndSwap(int32(MoveTaskRunning), int32(MoveTaskCancelled))
	t.stop()
}

func (t *MoveTask) stop() {
	if t.cancel != nil {
		t.cancel()
	}
}
