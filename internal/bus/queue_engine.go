package bus

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.msgemu.dev/internal/busmetrics"
	"go.msgemu.dev/internal/clock"
)

// SendMessageInput carries a single send request's parameters.
type SendMessageInput struct {
	Body                   string
	Attributes             map[string]MessageAttributeValue
	DelaySeconds           *int // nil means "use the queue default"
	MessageGroupID         string
	MessageDeduplicationID string
}

// SendMessageOutput is returned by SendMessage and by each successful entry
// of SendMessageBatch.
type SendMessageOutput struct {
	MessageID              string
	MD5OfBody              string
	MD5OfMessageAttributes string
	SequenceNumber         string
}

// SendMessage validates and enqueues a single message on q.
func (b *Bus) SendMessage(ctx context.Context, q *QueueResource, in SendMessageInput) (*SendMessageOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	size := MessageSize(in.Body, in.Attributes)
	if size > MaxMessageSize {
		return nil, errPayloadTooLarge(size, MaxMessageSize)
	}

	sysAttrs := map[string]string{
		SysAttrSentTimestamp: strconv.FormatInt(b.clock.Now().UnixMilli(), 10),
		SysAttrSenderId:      b.cfg.Account,
	}

	var out *SendMessageOutput
	var err error
	if q.IsFifo() {
		out, err = b.sendFifo(q, in, sysAttrs)
	} else {
		out, err = b.sendStandard(q, in, sysAttrs)
	}
	if err == nil {
		busmetrics.MessagesSent.WithLabelValues(q.Name).Inc()
	}
	return out, err
}

func (b *Bus) sendFifo(q *QueueResource, in SendMessageInput, sysAttrs map[string]string) (*SendMessageOutput, error) {
	if in.MessageGroupID == "" {
		return nil, errInvalidParameter("FIFO queues require MessageGroupId")
	}

	dedupID := in.MessageDeduplicationID
	if dedupID == "" {
		if !q.contentBasedDeduplication() {
			return nil, errInvalidParameter("MessageDeduplicationId is required unless ContentBasedDeduplication is enabled")
		}
		dedupID = ContentBasedDedupID(in.Body)
	}

	lock := q.groupLock(in.MessageGroupID)
	lock.Lock()
	defer lock.Unlock()

	var dedupScope interface {
		Load(key any) (any, bool)
		Store(key, value any)
	}
	if q.IsFairQueue() {
		dedupScope = q.groupDedupMap(in.MessageGroupID)
	} else {
		dedupScope = &q.dedup
	}

	if existing, ok := dedupScope.Load(dedupID); ok {
		rec := existing.(dedupRecord)
		return &SendMessageOutput{MessageID: rec.messageID, MD5OfBody: rec.md5OfBody, MD5OfMessageAttributes: rec.md5OfAttributes}, nil
	}

	sysAttrs[SysAttrMessageGroupId] = in.MessageGroupID
	sysAttrs[SysAttrMessageDeduplicationId] = dedupID
	sysAttrs[SysAttrSequenceNumber] = strconv.FormatInt(b.clock.Now().UnixNano(), 10)

	msg := NewMessage(in.Body, in.Attributes, sysAttrs)
	dedupScope.Store(dedupID, dedupRecord{messageID: msg.ID, md5OfBody: msg.MD5OfBody, md5OfAttributes: msg.MD5OfMessageAttributes})

	cell := q.groupCell(in.MessageGroupID)
	cell.messages = append(cell.messages, msg)

	return &SendMessageOutput{
		MessageID:              msg.ID,
		MD5OfBody:              msg.MD5OfBody,
		MD5OfMessageAttributes: msg.MD5OfMessageAttributes,
		SequenceNumber:         sysAttrs[SysAttrSequenceNumber],
	}, nil
}

func (b *Bus) sendStandard(q *QueueResource, in SendMessageInput, sysAttrs map[string]string) (*SendMessageOutput, error) {
	msg := NewMessage(in.Body, in.Attributes, sysAttrs)

	delay := q.DelaySeconds()
	if in.DelaySeconds != nil {
		delay = time.Duration(*in.DelaySeconds) * time.Second
	}

	if delay > 0 {
		b.clock.CreateTimer(delay, func() {
			q.ready.push(msg)
		})
	} else {
		q.ready.push(msg)
	}

	return &SendMessageOutput{
		MessageID:              msg.ID,
		MD5OfBody:              msg.MD5OfBody,
		MD5OfMessageAttributes: msg.MD5OfMessageAttributes,
	}, nil
}

// SendMessageBatchEntry is one entry of a batch send request.
type SendMessageBatchEntry struct {
	ID    string
	Input SendMessageInput
}

// SendMessageBatchResult is one entry's outcome: either Output or Err is set.
type SendMessageBatchResult struct {
	ID     string
	Output *SendMessageOutput
	Err    *Error
}

// SendMessageBatch sends every entry independently; per-entry failures
// never abort the batch, but a batch whose summed size exceeds
// MaxMessageSize fails outright (spec.md §4.2).
func (b *Bus) SendMessageBatch(ctx context.Context, q *QueueResource, entries []SendMessageBatchEntry) ([]SendMessageBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	total := 0
	for _, e := range entries {
		total += MessageSize(e.Input.Body, e.Input.Attributes)
	}
	if total > MaxMessageSize {
		return nil, errBatchTooLong(total, MaxMessageSize)
	}

	results := make([]SendMessageBatchResult, 0, len(entries))
	for _, e := range entries {
		out, err := b.SendMessage(ctx, q, e.Input)
		if err != nil {
			results = append(results, SendMessageBatchResult{ID: e.ID, Err: err.(*Error)})
			continue
		}
		results = append(results, SendMessageBatchResult{ID: e.ID, Output: out})
	}
	return results, nil
}

// ReceiveMessageInput carries a receive request's parameters.
type ReceiveMessageInput struct {
	MaxMessages              int
	WaitTime                 time.Duration
	VisibilityTimeout        *time.Duration // nil means "use the queue default"
	RequestedSystemAttributes []string
}

// ReceiveMessage pulls up to MaxMessages ready messages from q, installing
// a visibility timer and in-flight entry for each.
func (b *Bus) ReceiveMessage(ctx context.Context, q *QueueResource, in ReceiveMessageInput) ([]*Message, error) {
	start := b.clock.Now()
	defer func() {
		busmetrics.ReceiveDuration.WithLabelValues(q.Name).Observe(b.clock.Now().Sub(start).Seconds())
	}()

	max := in.MaxMessages
	if max < 1 {
		max = 1
	}

	visibility := q.VisibilityTimeout()
	if in.VisibilityTimeout != nil {
		visibility = *in.VisibilityTimeout
	}

	deadline := in.WaitTime
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, errCancelled()
		}

		popped := b.popMessages(q, max)
		if len(popped) > 0 || waited || deadline <= 0 {
			return b.materializeReceived(q, popped, visibility, in.RequestedSystemAttributes), nil
		}

		waitCh := q.ready.wait()
		timeoutCh := make(chan struct{})
		timer := b.clock.CreateTimer(deadline, func() { close(timeoutCh) })

		select {
		case <-waitCh:
			timer.Dispose()
		case <-timeoutCh:
			waited = true
		case <-ctx.Done():
			timer.Dispose()
			return nil, errCancelled()
		}
	}
}

// popMessages drains up to max ready messages: from the ready pool for a
// standard queue, or from the FIFO groups for a FIFO queue, taking each
// group's messages in order before moving on to the next group.
func (b *Bus) popMessages(q *QueueResource, max int) []*Message {
	out := make([]*Message, 0, max)

	if !q.IsFifo() {
		for len(out) < max {
			m, ok := q.ready.tryPop()
			if !ok {
				break
			}
			out = append(out, m)
		}
		return out
	}

	// FIFO: iterate groups (native map order — cross-group ordering is
	// explicitly unspecified, spec.md §9) popping under each group's lock
	// until max is reached or all groups are exhausted for this call.
	q.groupQueues.Range(func(key, _ any) bool {
		if len(out) >= max {
			return false
		}
		groupID := key.(string)
		lock := q.groupLock(groupID)
		lock.Lock()
		cell := q.groupCell(groupID)
		for len(out) < max && len(cell.messages) > 0 {
			out = append(out, cell.messages[0])
			cell.messages = cell.messages[1:]
		}
		q.dropGroupIfEmpty(groupID, cell)
		lock.Unlock()
		return len(out) < max
	})
	return out
}

// materializeReceived converts popped source messages into receive-ready
// clones: DLQ-promoting those whose receive count would exceed the queue's
// max, and installing visibility timers + in-flight entries for the rest.
func (b *Bus) materializeReceived(q *QueueResource, popped []*Message, visibility time.Duration, requestedAttrs []string) []*Message {
	result := make([]*Message, 0, len(popped))
	redrive := q.Redrive()
	now := b.clock.Now()

	for _, original := range popped {
		receiveCount := 1
		if v, ok := original.SystemAttributes[SysAttrApproximateReceiveCount]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				receiveCount = n + 1
			}
		}

		if redrive != nil && receiveCount > redrive.MaxReceiveCount {
			b.promoteToDeadLetter(q, original)
			continue
		}

		original.SystemAttributes[SysAttrApproximateReceiveCount] = strconv.Itoa(receiveCount)
		if _, ok := original.SystemAttributes[SysAttrApproximateFirstReceiveTimestamp]; !ok {
			original.SystemAttributes[SysAttrApproximateFirstReceiveTimestamp] = strconv.FormatInt(now.UnixMilli(), 10)
		}

		handle := NewReceiptHandle(q.Arn(), original.ID, now)

		clone := original.Clone()
		clone.SystemAttributes = FilterSystemAttributes(original.SystemAttributes, requestedAttrs)
		clone.ReceiptHandle = handle

		timer := b.clock.CreateTimer(visibility, func() {
			b.onVisibilityExpiry(q, handle, original)
		})
		q.inFlight.Store(handle, &inFlightEntry{message: original, timer: timer})

		result = append(result, clone)
	}
	if len(result) > 0 {
		busmetrics.MessagesReceived.WithLabelValues(q.Name).Add(float64(len(result)))
	}
	return result
}

func (b *Bus) onVisibilityExpiry(q *QueueResource, handle string, original *Message) {
	entry, ok := q.inFlight.LoadAndDelete(handle)
	if !ok {
		return
	}
	e := entry.(*inFlightEntry)
	e.timer.Dispose()
	b.requeue(q, original)
}

// requeue returns a message to its queue's ready structure: the group's
// ordered sub-queue for FIFO, the standard ready pool otherwise. Used by
// visibility expiry and by ChangeMessageVisibility(timeout=0).
func (b *Bus) requeue(q *QueueResource, m *Message) {
	if !q.IsFifo() {
		q.ready.push(m)
		return
	}
	groupID := m.SystemAttributes[SysAttrMessageGroupId]
	lock := q.groupLock(groupID)
	lock.Lock()
	cell := q.groupCell(groupID)
	cell.messages = append([]*Message{m}, cell.messages...)
	lock.Unlock()
}

// promoteToDeadLetter enqueues a message into its queue's dead-letter
// queue, stamping DeadLetterQueueSourceArn, and does not return it to the
// caller (spec.md §4.2).
func (b *Bus) promoteToDeadLetter(q *QueueResource, m *Message) {
	redrive := q.Redrive()
	if redrive == nil {
		return
	}
	dlq, err := b.GetQueueByArn(redrive.DeadLetterQueueArn)
	if err != nil {
		return
	}

	m.SystemAttributes[SysAttrDeadLetterQueueSourceArn] = q.Arn()
	busmetrics.MessagesDeadLettered.WithLabelValues(q.Name).Inc()

	if dlq.IsFifo() {
		groupID := m.SystemAttributes[SysAttrMessageGroupId]
		if groupID == "" {
			groupID = "__dlq__"
		}
		lock := dlq.groupLock(groupID)
		lock.Lock()
		cell := dlq.groupCell(groupID)
		cell.messages = append(cell.messages, m)
		lock.Unlock()
		return
	}
	dlq.ready.push(m)
}

// DeleteMessage removes an in-flight entry by receipt handle, disposing its
// timer and, for FIFO, dropping the group's dedup mapping so the dedup
// window closes.
func (b *Bus) DeleteMessage(ctx context.Context, q *QueueResource, receiptHandle string) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}

	decoded, err := ValidateReceiptHandle(receiptHandle, q.Arn())
	if err != nil {
		return err
	}

	entryAny, ok := q.inFlight.LoadAndDelete(receiptHandle)
	if !ok {
		return errReceiptHandleInvalid("no in-flight message for this handle")
	}
	entry := entryAny.(*inFlightEntry)
	entry.timer.Dispose()

	if q.IsFifo() {
		groupID := entry.message.SystemAttributes[SysAttrMessageGroupId]
		dedupID := entry.message.SystemAttributes[SysAttrMessageDeduplicationId]

		if q.IsFairQueue() {
			q.groupDedupMap(groupID).Delete(dedupID)
		} else {
			q.dedup.Delete(dedupID)
		}
	}

	_ = decoded.MessageID
	busmetrics.MessagesDeleted.WithLabelValues(q.Name).Inc()
	return nil
}

// DeleteMessageBatch deletes each entry independently; per-entry failures
// never abort the batch.
func (b *Bus) DeleteMessageBatch(ctx context.Context, q *QueueResource, entries map[string]string) (succeeded []string, failed map[string]*Error) {
	failed = make(map[string]*Error)
	for id, handle := range entries {
		if err := b.DeleteMessage(ctx, q, handle); err != nil {
			failed[id] = err.(*Error)
			continue
		}
		succeeded = append(succeeded, id)
	}
	return succeeded, failed
}

// ChangeMessageVisibility reschedules or clears an in-flight message's
// visibility timer. A handle with no in-flight entry is a silent no-op,
// matching the real service's observed behavior (spec.md §4.2).
func (b *Bus) ChangeMessageVisibility(ctx context.Context, q *QueueResource, receiptHandle string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}

	entryAny, ok := q.inFlight.Load(receiptHandle)
	if !ok {
		return nil
	}
	entry := entryAny.(*inFlightEntry)

	if timeout <= 0 {
		q.inFlight.Delete(receiptHandle)
		entry.timer.Dispose()
		b.requeue(q, entry.message)
		return nil
	}

	entry.timer.Change(timeout)
	return nil
}

// ChangeVisibilityBatchEntry is one entry of a batch visibility-change
// request.
type ChangeVisibilityBatchEntry struct {
	ID                string
	ReceiptHandle     string
	VisibilityTimeout time.Duration
}

// ChangeMessageVisibilityBatch applies ChangeMessageVisibility to each
// entry independently.
func (b *Bus) ChangeMessageVisibilityBatch(ctx context.Context, q *QueueResource, entries []ChangeVisibilityBatchEntry) (succeeded []string, failed map[string]*Error) {
	failed = make(map[string]*Error)
	for _, e := range entries {
		if err := b.ChangeMessageVisibility(ctx, q, e.ReceiptHandle, e.VisibilityTimeout); err != nil {
			failed[e.ID] = err.(*Error)
			continue
		}
		succeeded = append(succeeded, e.ID)
	}
	return succeeded, failed
}

// PurgeQueue drains the ready pool and every in-flight entry, disposing
// timers. Dedup entries are left in place (spec.md §4.2).
func (b *Bus) PurgeQueue(ctx context.Context, q *QueueResource) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}

	q.ready.drain()

	q.groupQueues.Range(func(key, value any) bool {
		groupID := key.(string)
		lock := q.groupLock(groupID)
		lock.Lock()
		cell := q.groupCell(groupID)
		cell.messages = nil
		q.groupQueues.Delete(groupID)
		lock.Unlock()
		return true
	})

	q.inFlight.Range(func(key, value any) bool {
		entry := value.(*inFlightEntry)
		entry.timer.Dispose()
		q.inFlight.Delete(key)
		return true
	})

	return nil
}

// SetQueueAttributes merges attrs into the queue's stored attribute map and
// re-derives visibility timeout / redrive config.
func (b *Bus) SetQueueAttributes(ctx context.Context, q *QueueResource, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}
	for k := range attrs {
		if computedAttributes[k] {
			return errInvalidParameter("attribute %q is computed and cannot be set", k)
		}
	}

	q.attrMu.Lock()
	for k, v := range attrs {
		q.attributes[k] = v
	}
	q.lastModifiedAt = time.Now().UTC()
	q.attrMu.Unlock()

	return q.applyDerivedAttributes(b.lookupQueueLocked)
}

// GetQueueAttributes returns either every attribute (including computed
// keys) when names is empty/["All"], or the intersection of names with
// stored/computed attributes.
func (b *Bus) GetQueueAttributes(q *QueueResource, names []string) map[string]string {
	all := q.attributesSnapshot()
	busmetrics.QueueDepthReady.WithLabelValues(q.Name).Set(float64(q.approximateNumberOfMessages()))
	busmetrics.QueueDepthInFlight.WithLabelValues(q.Name).Set(float64(q.approximateNumberNotVisible()))
	if len(names) == 0 {
		return all
	}
	for _, n := range names {
		if n == "All" {
			return all
		}
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := all[n]; ok {
			out[n] = v
		}
	}
	return out
}

// TagQueue merges tags into the queue's tag map. A nil/null value is not
// representable in a map[string]string, so callers are expected to omit
// null-valued tags before calling (the adapter layer's responsibility).
func (b *Bus) TagQueue(q *QueueResource, tags map[string]string) {
	q.attrMu.Lock()
	defer q.attrMu.Unlock()
	for k, v := range tags {
		q.tags[k] = v
	}
}

// UntagQueue removes the named tags.
func (b *Bus) UntagQueue(q *QueueResource, keys []string) {
	q.attrMu.Lock()
	defer q.attrMu.Unlock()
	for _, k := range keys {
		delete(q.tags, k)
	}
}

// ListQueueTags returns a copy of the queue's tag map.
func (b *Bus) ListQueueTags(q *QueueResource) map[string]string {
	q.attrMu.RLock()
	defer q.attrMu.RUnlock()
	out := make(map[string]string, len(q.tags))
	for k, v := range q.tags {
		out[k] = v
	}
	return out
}

// AddPermission inserts a new Allow statement into the queue's Policy
// attribute, granting actions (e.g. "SQS:SendMessage") to the given account
// arns. Fails with InvalidParameter if a statement with the same label
// already exists (spec.md §4.2).
func (b *Bus) AddPermission(q *QueueResource, label string, accountArns, actions []string) error {
	q.attrMu.Lock()
	defer q.attrMu.Unlock()

	doc, err := parsePolicy(q.attributes[AttrPolicy])
	if err != nil {
		return err
	}
	for _, s := range doc.Statement {
		if s.Sid == label {
			return errInvalidParameter("a statement with Sid %q already exists", label)
		}
	}

	wireActions := make([]string, len(actions))
	for i, a := range actions {
		wireActions[i] = "SQS:" + a
	}
	doc.Statement = append(doc.Statement, policyStatement{
		Sid:       label,
		Effect:    "Allow",
		Principal: policyPrincipal{AWS: accountArns},
		Action:    wireActions,
		Resource:  q.Arn(),
	})

	raw, encErr := json.Marshal(doc)
	if encErr != nil {
		return errInternal("failed to marshal Policy attribute: %v", encErr)
	}
	q.attributes[AttrPolicy] = string(raw)
	q.lastModifiedAt = time.Now().UTC()
	return nil
}

// RemovePermission deletes the statement with the given label. When the
// last statement is removed, the Policy attribute itself is removed rather
// than left as an empty-Statement document (spec.md §4.2).
func (b *Bus) RemovePermission(q *QueueResource, label string) error {
	q.attrMu.Lock()
	defer q.attrMu.Unlock()

	doc, err := parsePolicy(q.attributes[AttrPolicy])
	if err != nil {
		return err
	}

	kept := doc.Statement[:0]
	found := false
	for _, s := range doc.Statement {
		if s.Sid == label {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return errInvalidParameter("no statement with Sid %q", label)
	}

	if len(kept) == 0 {
		delete(q.attributes, AttrPolicy)
		q.lastModifiedAt = time.Now().UTC()
		return nil
	}

	doc.Statement = kept
	raw, encErr := json.Marshal(doc)
	if encErr != nil {
		return errInternal("failed to marshal Policy attribute: %v", encErr)
	}
	q.attributes[AttrPolicy] = string(raw)
	q.lastModifiedAt = time.Now().UTC()
	return nil
}

// ensure clock.Timer satisfies timerHandle (compile-time check).
var _ timerHandle = clock.Timer(nil)
