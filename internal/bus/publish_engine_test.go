package bus

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestPublishRawDeliveryForwardsBodyVerbatim(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	topic := mustCreateTopic(t, b, "events", nil)
	q := mustCreateQueue(t, b, "orders", nil)
	sub, _ := b.Subscribe(ctx, topic.Arn(), "sqs", q.Arn(), nil)
	if err := b.SetSubscriptionAttributes(ctx, sub.Arn, SubscriptionAttrRawMessageDelivery, "true"); err != nil {
		t.Fatalf("SetSubscriptionAttributes failed: %v", err)
	}

	if _, err := b.Publish(ctx, topic, PublishInput{Message: "order placed"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	received, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil || len(received) != 1 {
		t.Fatalf("expected the queue to receive the published message, got %v / %v", received, err)
	}
	if received[0].Body != "order placed" {
		t.Fatalf("raw delivery should forward the body verbatim, got %q", received[0].Body)
	}
}

func TestPublishEnvelopedDeliveryWrapsBody(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	topic := mustCreateTopic(t, b, "events", nil)
	q := mustCreateQueue(t, b, "orders", nil)
	b.Subscribe(ctx, topic.Arn(), "sqs", q.Arn(), nil)

	if _, err := b.Publish(ctx, topic, PublishInput{Message: "order placed", Subject: "orders"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	received, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1})
	if err != nil || len(received) != 1 {
		t.Fatalf("expected the queue to receive the published message, got %v / %v", received, err)
	}

	var env notificationEnvelope
	if err := json.Unmarshal([]byte(received[0].Body), &env); err != nil {
		t.Fatalf("expected a JSON notification envelope, got %q: %v", received[0].Body, err)
	}
	if env.Type != "Notification" {
		t.Fatalf("expected Type=Notification, got %q", env.Type)
	}
	if env.Message != "order placed" {
		t.Fatalf("expected Message to carry the published body, got %q", env.Message)
	}
	if env.TopicArn != topic.Arn() {
		t.Fatalf("expected TopicArn to be set, got %q", env.TopicArn)
	}
	if env.Subject != "orders" {
		t.Fatalf("expected Subject to be forwarded, got %q", env.Subject)
	}
}

func TestPublishSkipsSubscriptionsThatDoNotMatchFilterPolicy(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	topic := mustCreateTopic(t, b, "events", nil)

	matching := mustCreateQueue(t, b, "matching", nil)
	other := mustCreateQueue(t, b, "other", nil)

	matchSub, _ := b.Subscribe(ctx, topic.Arn(), "sqs", matching.Arn(), nil)
	b.SetSubscriptionAttributes(ctx, matchSub.Arn, SubscriptionAttrFilterPolicy, `{"color":["red"]}`)
	otherSub, _ := b.Subscribe(ctx, topic.Arn(), "sqs", other.Arn(), nil)
	b.SetSubscriptionAttributes(ctx, otherSub.Arn, SubscriptionAttrFilterPolicy, `{"color":["blue"]}`)

	_, err := b.Publish(ctx, topic, PublishInput{
		Message:    "red shirt",
		Attributes: map[string]MessageAttributeValue{"color": {DataType: "String", StringValue: "red"}},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, _ := b.ReceiveMessage(ctx, matching, ReceiveMessageInput{MaxMessages: 1})
	if len(got) != 1 {
		t.Fatalf("expected the matching subscription's queue to receive the message, got %v", got)
	}
	gotOther, _ := b.ReceiveMessage(ctx, other, ReceiveMessageInput{MaxMessages: 1})
	if len(gotOther) != 0 {
		t.Fatalf("expected the non-matching subscription's queue to receive nothing, got %v", gotOther)
	}
}

func TestPublishToFifoTopicPropagatesGroupAndDedupID(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	topic := mustCreateTopic(t, b, "events.fifo", nil)
	q := mustCreateQueue(t, b, "orders.fifo", nil)
	sub, _ := b.Subscribe(ctx, topic.Arn(), "sqs", q.Arn(), nil)
	b.SetSubscriptionAttributes(ctx, sub.Arn, SubscriptionAttrRawMessageDelivery, "true")

	_, err := b.Publish(ctx, topic, PublishInput{
		Message:                "first",
		MessageGroupID:         "g1",
		MessageDeduplicationID: "d1",
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	received, err := b.ReceiveMessage(ctx, q, ReceiveMessageInput{MaxMessages: 1, RequestedSystemAttributes: []string{"All"}})
	if err != nil || len(received) != 1 {
		t.Fatalf("expected to receive the published message, got %v / %v", received, err)
	}
	if received[0].SystemAttributes[SysAttrMessageGroupId] != "g1" {
		t.Fatalf("expected MessageGroupId to propagate to the destination queue, got %v", received[0].SystemAttributes)
	}
	if received[0].SystemAttributes[SysAttrMessageDeduplicationId] != "d1" {
		t.Fatalf("expected MessageDeduplicationId to propagate to the destination queue, got %v", received[0].SystemAttributes)
	}
}

func TestPublishIgnoresNonSqsSubscriptions(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()
	topic := mustCreateTopic(t, b, "events", nil)
	b.Subscribe(ctx, topic.Arn(), "http", "https://example.com/hook", nil)

	if _, err := b.Publish(ctx, topic, PublishInput{Message: strings.Repeat("x", 10)}); err != nil {
		t.Fatalf("Publish should succeed even though no sqs subscription exists: %v", err)
	}
}
