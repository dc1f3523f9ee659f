package bus

import (
	"context"
	"testing"
	"time"

	"go.msgemu.dev/internal/clock"
)

// newTestBus builds a Bus over a VirtualClock starting at a fixed instant,
// matching the teacher's hand-rolled-fake testing convention (no mocking
// library, a real collaborator swapped for a deterministic one).
func newTestBus(t *testing.T) (*Bus, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := New(BusConfig{
		Region:                   "us-east-1",
		Account:                  "000000000000",
		DefaultVisibilityTimeout: 30 * time.Second,
		DefaultMessageRetention:  4 * 24 * time.Hour,
		MaxMoveTaskRate:          500,
	}, vc)
	return b, vc
}

func mustCreateQueue(t *testing.T, b *Bus, name string, attrs map[string]string) *QueueResource {
	t.Helper()
	q, err := b.CreateQueue(context.Background(), name, attrs, nil)
	if err != nil {
		t.Fatalf("CreateQueue(%q) failed: %v", name, err)
	}
	return q
}

func TestCreateQueueIsIdempotentByName(t *testing.T) {
	b, _ := newTestBus(t)
	q1 := mustCreateQueue(t, b, "orders", nil)
	q2 := mustCreateQueue(t, b, "orders", nil)
	if q1 != q2 {
		t.Fatalf("expected CreateQueue to return the existing resource for a repeat name")
	}
}

func TestGetQueueNotFound(t *testing.T) {
	b, _ := newTestBus(t)
	if _, err := b.GetQueue("missing"); err == nil {
		t.Fatalf("expected an error for a missing queue")
	} else if err.(*Error).Kind != KindQueueNotFound {
		t.Fatalf("expected KindQueueNotFound, got %v", err.(*Error).Kind)
	}
}

func TestDeleteQueueReturnsArnAfterRemoval(t *testing.T) {
	b, _ := newTestBus(t)
	q := mustCreateQueue(t, b, "orders", nil)
	arn, err := b.DeleteQueue(context.Background(), "orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arn != q.Arn() {
		t.Fatalf("DeleteQueue arn = %q, want %q", arn, q.Arn())
	}
	if _, err := b.GetQueue("orders"); err == nil {
		t.Fatalf("expected queue to be gone after DeleteQueue")
	}
}

func TestListQueuesFiltersByPrefixAndPaginates(t *testing.T) {
	b, _ := newTestBus(t)
	mustCreateQueue(t, b, "orders-a", nil)
	mustCreateQueue(t, b, "orders-b", nil)
	mustCreateQueue(t, b, "billing", nil)

	names, next, err := b.ListQueues("orders-", 10, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 prefix-matched queues, got %v", names)
	}
	if next != "" {
		t.Fatalf("expected no next token for a page covering everything")
	}
}

func TestCreateQueueRejectsComputedAttribute(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.CreateQueue(context.Background(), "orders", map[string]string{AttrQueueArn: "whatever"}, nil)
	if err == nil {
		t.Fatalf("expected an error when a computed attribute is supplied")
	}
	if err.(*Error).Kind != KindInvalidParameter {
		t.Fatalf("expected KindInvalidParameter, got %v", err.(*Error).Kind)
	}
}

func TestCreateQueueValidatesRedriveTarget(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.CreateQueue(context.Background(), "orders", map[string]string{
		AttrRedrivePolicy: `{"deadLetterTargetArn":"arn:aws:sqs:us-east-1:000000000000:missing-dlq","maxReceiveCount":3}`,
	}, nil)
	if err == nil {
		t.Fatalf("expected an error when RedrivePolicy names a queue that does not exist")
	}
	if err.(*Error).Kind != KindDependencyMissing {
		t.Fatalf("expected KindDependencyMissing, got %v", err.(*Error).Kind)
	}
}
