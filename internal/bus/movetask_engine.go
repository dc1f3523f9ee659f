package bus

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.msgemu.dev/internal/busmetrics"
)

// StartMessageMoveTask begins draining sourceArn (which must be some
// queue's dead-letter queue) back to destArn, or to each message's own
// DeadLetterQueueSourceArn when destArn is empty. Only one Running task may
// target a given source at a time.
func (b *Bus) StartMessageMoveTask(ctx context.Context, sourceArn, destArn string, maxPerSecond int) (*MoveTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	source, err := b.GetQueueByArn(sourceArn)
	if err != nil {
		return nil, errInvalidSource(sourceArn)
	}
	if !b.isDeadLetterQueueOfAny(sourceArn) {
		return nil, errInvalidSource(sourceArn)
	}

	if destArn != "" {
		if _, err := b.GetQueueByArn(destArn); err != nil {
			return nil, errDestinationNotFound(destArn)
		}
	}

	b.moveTasksMu.Lock()
	for _, t := range b.moveTasks {
		if t.SourceArn == sourceArn && t.Status() == MoveTaskRunning {
			b.moveTasksMu.Unlock()
			return nil, errUnsupportedOperation("a move task is already running for source %q", sourceArn)
		}
	}

	if maxPerSecond <= 0 {
		maxPerSecond = b.cfg.MaxMoveTaskRate
	}
	task := newMoveTask(uuid.New().String(), sourceArn, destArn, maxPerSecond, int64(source.approximateNumberOfMessages()))
	b.moveTasks[task.Handle] = task
	b.moveTasksMu.Unlock()

	busmetrics.MoveTasksStarted.WithLabelValues(source.Name).Inc()
	busmetrics.MoveTasksActive.Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	task.cancel = cancel
	go b.runMoveTask(runCtx, task, source)

	return task, nil
}

func (b *Bus) isDeadLetterQueueOfAny(sourceArn string) bool {
	b.queuesMu.RLock()
	defer b.queuesMu.RUnlock()
	for _, q := range b.queues {
		if redrive := q.Redrive(); redrive != nil && redrive.DeadLetterQueueArn == sourceArn {
			return true
		}
	}
	return false
}

// runMoveTask is the background job: repeatedly receive-one from source,
// resolve a destination, send, delete from source, rate-limit, until the
// source drains or the task is cancelled.
func (b *Bus) runMoveTask(ctx context.Context, task *MoveTask, source *QueueResource) {
	defer close(task.done)
	defer busmetrics.MoveTasksActive.Dec()

	for {
		if ctx.Err() != nil {
			return
		}

		now := b.clock.Now()
		reservation := task.limiter.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); delay > 0 {
			if err := b.clock.Sleep(ctx, delay); err != nil {
				return
			}
		}

		msgs, err := b.ReceiveMessage(ctx, source, ReceiveMessageInput{MaxMessages: 1})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("move task receive failed", "task", task.Handle, "error", err)
			continue
		}
		if len(msgs) == 0 {
			task.markCompleted()
			return
		}
		msg := msgs[0]

		destArn := task.DestArn
		if destArn == "" {
			destArn = msg.SystemAttributes[SysAttrDeadLetterQueueSourceArn]
		}
		dest, err := b.GetQueueByArn(destArn)
		if err != nil {
			slog.Debug("move task destination missing, skipping message", "task", task.Handle, "dest", destArn)
			continue
		}

		sendIn := SendMessageInput{
			Body:                   msg.Body,
			Attributes:             msg.Attributes,
			MessageGroupID:         msg.SystemAttributes[SysAttrMessageGroupId],
			MessageDeduplicationID: msg.SystemAttributes[SysAttrMessageDeduplicationId],
		}
		if _, err := b.SendMessage(ctx, dest, sendIn); err != nil {
			slog.Debug("move task send to destination failed", "task", task.Handle, "error", err)
			continue
		}
		if err := b.DeleteMessage(ctx, source, msg.ReceiptHandle); err != nil {
			slog.Debug("move task delete from source failed", "task", task.Handle, "error", err)
		}

		task.moved.Add(1)
		busmetrics.MoveTasksMessagesMoved.WithLabelValues(source.Name).Inc()
	}
}

// CancelMessageMoveTask stops a running task's background job and flips its
// status to Cancelled.
func (b *Bus) CancelMessageMoveTask(handle string) error {
	b.moveTasksMu.RLock()
	task, ok := b.moveTasks[handle]
	b.moveTasksMu.RUnlock()
	if !ok {
		return errInvalidParameter("no move task with handle %q", handle)
	}
	task.markCancelled()
	return nil
}

// ListMessageMoveTasks returns every task (of any status) whose source
// matches sourceArn.
func (b *Bus) ListMessageMoveTasks(sourceArn string) []*MoveTask {
	b.moveTasksMu.RLock()
	defer b.moveTasksMu.RUnlock()
	out := make([]*MoveTask, 0)
	for _, t := range b.moveTasks {
		if t.SourceArn == sourceArn {
			out = append(out, t)
		}
	}
	return out
}

// ActiveMoveTaskCount returns the number of move tasks across every queue
// still in the Running state, for health reporting.
func (b *Bus) ActiveMoveTaskCount() int {
	b.moveTasksMu.RLock()
	defer b.moveTasksMu.RUnlock()
	n := 0
	for _, t := range b.moveTasks {
		if t.Status() == MoveTaskRunning {
			n++
		}
	}
	return n
}
