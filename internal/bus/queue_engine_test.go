package bus

import (
	"context"
	"testing"
	"time"
)

func TestSendReceiveDeleteStandardQueue(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)
	ctx := context.Background()

	out, err := b.SendMessage(ctx, q, SendMessageInput{Body: "hello"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if out.MD5OfBody != md5Hex("hello") {
		t.Fatalf("MD5OfBody = %q, want %q", out.MD5OfBody, md5Hex("hello"))
	}

	received, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if len(received) != 1 || received[0].ID != out.MessageID {
		t.Fatalf("expected to receive the sent message, got %v", received)
	}
	if received[0].ReceiptHandle == "" {
		t.Fatalf("expected a non-empty receipt handle")
	}

	// The message is in flight; a second receive must not see it again.
	empty, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no messages while the first is in flight, got %v", empty)
	}

	if err := b.DeleteMessage(ctx, q, received[0].ReceiptHandle); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if err := b.DeleteMessage(ctx, q, received[0].ReceiptHandle); err == nil {
		t.Fatalf("expected an error deleting an already-deleted handle")
	}
}

func TestReceiveMessageNoWaitReturnsImmediatelyWhenEmpty(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)

	got, err := b.ReceiveMessage(context.Background(), q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected an empty result, got %v", got)
	}
}

func TestVisibilityTimeoutExpiryRequeuesMessage(t *testing.T) {
	b, vc := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", map[string]string{AttrVisibilityTimeout: "30"})
	ctx := context.Background()

	if _, err := b.SendMessage(ctx, q, SendMessageInput{Body: "hello"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	first, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil || len(first) != 1 {
		t.Fatalf("expected to receive one message, got %v / %v", first, err)
	}

	// Before the timeout elapses, nothing becomes visible again.
	vc.Advance(29 * time.Second)
	stillEmpty, _ := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if len(stillEmpty) != 0 {
		t.Fatalf("expected the message to still be invisible, got %v", stillEmpty)
	}

	// Crossing the timeout returns it to the ready pool.
	vc.Advance(2 * time.Second)
	second, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1, RequestedSystemAttributes: []string{"All"}})
	if err != nil || len(second) != 1 {
		t.Fatalf("expected the message to become visible again, got %v / %v", second, err)
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("expected the same message to come back, got a different id")
	}
	if second[0].SystemAttributes[SysAttrApproximateReceiveCount] != "2" {
		t.Fatalf("expected ApproximateReceiveCount=2, got %q", second[0].SystemAttributes[SysAttrApproximateReceiveCount])
	}
}

func TestChangeMessageVisibilityToZeroRequeuesImmediately(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", map[string]string{AttrVisibilityTimeout: "300"})
	ctx := context.Background()

	b.SendMessage(ctx, q, SendMessageInput{Body: "hello"})
	received, _ := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})

	if err := b.ChangeMessageVisibility(ctx, q, received[0].ReceiptHandle, 0); err != nil {
		t.Fatalf("ChangeMessageVisibility failed: %v", err)
	}

	again, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil || len(again) != 1 {
		t.Fatalf("expected the message to be immediately visible, got %v / %v", again, err)
	}
}

func TestFifoQueueRequiresGroupID(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders.fifo", nil)
	_, err := b.SendMessage(context.Background(), q, SendMessageInput{Body: "hello", MessageDeduplicationID: "d1"})
	if err == nil {
		t.Fatalf("expected an error for a FIFO send with no MessageGroupId")
	}
	if err.(*Error).Kind != KindInvalidParameter {
		t.Fatalf("expected KindInvalidParameter, got %v", err.(*Error).Kind)
	}
}

func TestFifoQueuePreservesGroupOrderAndDedups(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders.fifo", nil)
	ctx := context.Background()

	out1, err := b.SendMessage(ctx, q, SendMessageInput{Body: "first", MessageGroupID: "g1", MessageDeduplicationID: "d1"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := b.SendMessage(ctx, q, SendMessageInput{Body: "second", MessageGroupID: "g1", MessageDeduplicationID: "d2"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// A repeat of the first dedup id must not create a new message, and
	// must echo back the original message's id and digests.
	dup, err := b.SendMessage(ctx, q, SendMessageInput{Body: "first", MessageGroupID: "g1", MessageDeduplicationID: "d1"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if dup.MessageID != out1.MessageID {
		t.Fatalf("expected the duplicate send to echo the original message id")
	}
	if dup.MD5OfBody != out1.MD5OfBody || dup.MD5OfMessageAttributes != out1.MD5OfMessageAttributes {
		t.Fatalf("expected the duplicate send to echo the original message digests")
	}

	received, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 10})
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("expected exactly 2 distinct messages in the group, got %d", len(received))
	}
	if received[0].Body != "first" || received[1].Body != "second" {
		t.Fatalf("expected FIFO group order to be preserved, got %q then %q", received[0].Body, received[1].Body)
	}
}

func TestFifoContentBasedDeduplicationRequiresFlag(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders.fifo", nil)
	_, err := b.SendMessage(context.Background(), q, SendMessageInput{Body: "hello", MessageGroupID: "g1"})
	if err == nil {
		t.Fatalf("expected an error when neither a dedup id nor content-based dedup is available")
	}

	b2, _ := newTestBus(t)
	q2 := mustCreateQueue(t, b2, "orders.fifo", map[string]string{AttrContentBasedDeduplication: "true"})
	if _, err := b2.SendMessage(context.Background(), q2, SendMessageInput{Body: "hello", MessageGroupID: "g1"}); err != nil {
		t.Fatalf("expected content-based dedup to satisfy the requirement: %v", err)
	}
}

func TestDeadLetterQueuePromotionOnMaxReceiveExceeded(t *testing.T) {
	b, vc := newTestBus(t)
	dlq := mustCreateQueue(t, b, "orders-dlq", nil)
	src := mustCreateQueue(t, b, "orders", map[string]string{
		AttrVisibilityTimeout: "30",
		AttrRedrivePolicy:     `{"deadLetterTargetArn":"` + dlq.Arn() + `","maxReceiveCount":1}`,
	})
	ctx := context.Background()

	if _, err := b.SendMessage(ctx, src, SendMessageInput{Body: "poison"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	first, err := b.ReceiveMessage(ctx, src, ReceiveMessageInput{MaxMessages: 1})
	if err != nil || len(first) != 1 {
		t.Fatalf("expected to receive once, got %v / %v", first, err)
	}

	vc.Advance(31 * time.Second) // visibility expires, message requeues

	second, err := b.ReceiveMessage(ctx, src, ReceiveMessageInput{MaxMessages: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected the message to be promoted to the DLQ rather than redelivered, got %v", second)
	}

	fromDLQ, err := b.ReceiveMessage(ctx, dlq, ReceiveMessageInput{MaxMessages: 1, RequestedSystemAttributes: []string{"All"}})
	if err != nil || len(fromDLQ) != 1 {
		t.Fatalf("expected the message to land in the dead-letter queue, got %v / %v", fromDLQ, err)
	}
	if fromDLQ[0].Body != "poison" {
		t.Fatalf("expected the DLQ message body to be preserved, got %q", fromDLQ[0].Body)
	}
	if fromDLQ[0].SystemAttributes[SysAttrDeadLetterQueueSourceArn] != src.Arn() {
		t.Fatalf("expected DeadLetterQueueSourceArn to be stamped with the source queue arn")
	}
}

func TestPurgeQueueDrainsReadyAndInFlight(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)
	ctx := context.Background()

	b.SendMessage(ctx, q, SendMessageInput{Body: "a"})
	b.SendMessage(ctx, q, SendMessageInput{Body: "b"})
	received, _ := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if len(received) != 1 {
		t.Fatalf("expected to receive one message before purging")
	}

	if err := b.PurgeQueue(ctx, q); err != nil {
		t.Fatalf("PurgeQueue failed: %v", err)
	}

	attrs := b.GetQueueAttributes(q, []string{"All"})
	if attrs[AttrApproxNumberOfMessages] != "0" {
		t.Fatalf("expected ApproximateNumberOfMessages=0 after purge, got %q", attrs[AttrApproxNumberOfMessages])
	}
	if attrs[AttrApproxNumberNotVisible] != "0" {
		t.Fatalf("expected ApproximateNumberOfMessagesNotVisible=0 after purge, got %q", attrs[AttrApproxNumberNotVisible])
	}
}

func TestSetQueueAttributesRejectsComputedKeys(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)
	err := b.SetQueueAttributes(context.Background(), q, map[string]string{AttrApproxNumberOfMessages: "5"})
	if err == nil {
		t.Fatalf("expected an error setting a computed attribute")
	}
}

func TestTagQueueAndUntagQueue(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)

	b.TagQueue(q, map[string]string{"team": "fulfillment"})
	tags := b.ListQueueTags(q)
	if tags["team"] != "fulfillment" {
		t.Fatalf("expected tag to be set, got %v", tags)
	}

	b.UntagQueue(q, []string{"team"})
	if tags := b.ListQueueTags(q); len(tags) != 0 {
		t.Fatalf("expected tags to be empty after untag, got %v", tags)
	}
}

func TestAddPermissionRejectsDuplicateSid(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)

	if err := b.AddPermission(q, "ProducerAccess", []string{"arn:aws:iam::111122223333:root"}, []string{"SendMessage"}); err != nil {
		t.Fatalf("AddPermission failed: %v", err)
	}

	attrs := b.GetQueueAttributes(q, []string{AttrPolicy})
	if attrs[AttrPolicy] == "" {
		t.Fatalf("expected Policy attribute to be set")
	}

	if err := b.AddPermission(q, "ProducerAccess", []string{"arn:aws:iam::444455556666:root"}, []string{"SendMessage"}); err == nil {
		t.Fatalf("expected an error adding a duplicate Sid")
	}
}

func TestRemovePermissionClearsPolicyWhenEmpty(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)

	if err := b.AddPermission(q, "ProducerAccess", []string{"arn:aws:iam::111122223333:root"}, []string{"SendMessage"}); err != nil {
		t.Fatalf("AddPermission failed: %v", err)
	}

	if err := b.RemovePermission(q, "ProducerAccess"); err != nil {
		t.Fatalf("RemovePermission failed: %v", err)
	}

	attrs := b.GetQueueAttributes(q, []string{AttrPolicy})
	if attrs[AttrPolicy] != "" {
		t.Fatalf("expected Policy attribute to be removed, got %q", attrs[AttrPolicy])
	}

	if err := b.RemovePermission(q, "ProducerAccess"); err == nil {
		t.Fatalf("expected an error removing an already-removed Sid")
	}
}
