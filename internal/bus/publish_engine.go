package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.msgemu.dev/internal/busmetrics"
)

// PublishInput carries a single publish request's parameters.
type PublishInput struct {
	Message                string
	Subject                string
	Attributes             map[string]MessageAttributeValue
	MessageGroupID         string
	MessageDeduplicationID string
}

// PublishOutput is returned by a successful Publish.
type PublishOutput struct {
	MessageID string
}

// notificationEnvelope is the enveloped-delivery JSON body for a non-raw
// subscription (spec.md §4.4).
type notificationEnvelope struct {
	Type              string                          `json:"Type"`
	MessageId         string                           `json:"MessageId"`
	TopicArn          string                           `json:"TopicArn"`
	Subject           string                           `json:"Subject,omitempty"`
	Message           string                           `json:"Message"`
	Timestamp         string                           `json:"Timestamp"`
	MessageAttributes map[string]envelopeAttributeValue `json:"MessageAttributes,omitempty"`
}

type envelopeAttributeValue struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// Publish fans a message out to every matching subscription of t.
func (b *Bus) Publish(ctx context.Context, t *TopicResource, in PublishInput) (*PublishOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	size := MessageSize(in.Message, in.Attributes)
	if size > MaxMessageSize {
		return nil, errPayloadTooLarge(size, MaxMessageSize)
	}

	messageID := uuid.New().String()
	busmetrics.NotificationsPublished.WithLabelValues(t.Name).Inc()

	subs, nextToken, err := b.ListSubscriptionsByTopic(t.Arn(), 0, "")
	if err != nil {
		return nil, err
	}
	// ListSubscriptionsByTopic paginates at DefaultPageSize; publish must
	// fan out to every subscription regardless of count, so walk every
	// remaining page starting from the token the first call returned.
	allSubs := subs
	for nextToken != "" {
		page, next, err := b.ListSubscriptionsByTopic(t.Arn(), DefaultPageSize, nextToken)
		if err != nil || len(page) == 0 {
			break
		}
		allSubs = append(allSubs, page...)
		nextToken = next
	}

	for _, s := range allSubs {
		if s.Protocol != "sqs" {
			continue
		}

		policy, err := ParseFilterPolicy(s.FilterPolicy())
		if err != nil {
			continue
		}
		if !policy.Matches(in.Attributes) {
			busmetrics.NotificationsFiltered.WithLabelValues(t.Name).Inc()
			continue
		}

		dest, err := b.GetQueueByArn(s.Endpoint)
		if err != nil {
			continue
		}

		body, err := b.buildDeliveryBody(s, t, messageID, in)
		if err != nil {
			continue
		}

		sendIn := SendMessageInput{
			Body:       body,
			Attributes: deliveryAttributes(s, in.Attributes),
		}
		if t.IsFifo() {
			sendIn.MessageGroupID = in.MessageGroupID
			dedupID := in.MessageDeduplicationID
			if dedupID == "" && t.ContentBasedDeduplication() {
				dedupID = ContentBasedDedupID(in.Message)
			}
			sendIn.MessageDeduplicationID = dedupID
		}

		if _, err := b.SendMessage(ctx, dest, sendIn); err == nil {
			busmetrics.NotificationsDelivered.WithLabelValues(t.Name).Inc()
		}
	}

	return &PublishOutput{MessageID: messageID}, nil
}

func deliveryAttributes(s *Subscription, attrs map[string]MessageAttributeValue) map[string]MessageAttributeValue {
	if s.RawMessageDelivery() {
		return attrs
	}
	return nil
}

func (b *Bus) buildDeliveryBody(s *Subscription, t *TopicResource, messageID string, in PublishInput) (string, error) {
	if s.RawMessageDelivery() {
		return in.Message, nil
	}

	envAttrs := make(map[string]envelopeAttributeValue, len(in.Attributes))
	for name, v := range in.Attributes {
		value := v.StringValue
		if v.BinaryValue != nil {
			value = string(v.BinaryValue)
		}
		envAttrs[name] = envelopeAttributeValue{Type: v.DataType, Value: value}
	}

	env := notificationEnvelope{
		Type:              "Notification",
		MessageId:         messageID,
		TopicArn:          t.Arn(),
		Subject:           in.Subject,
		Message:           in.Message,
		Timestamp:         b.clock.Now().Format(time.RFC3339),
		MessageAttributes: envAttrs,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", errInternal("failed to marshal notification envelope: %v", err)
	}
	return string(raw), nil
}

// PublishBatchEntry is one entry of a batch publish request.
type PublishBatchEntry struct {
	ID    string
	Input PublishInput
}

// PublishBatchResult is one entry's outcome: either Output or Err is set.
type PublishBatchResult struct {
	ID     string
	Output *PublishOutput
	Err    *Error
}

// PublishBatch publishes every entry independently; per-entry failures
// never abort the batch.
func (b *Bus) PublishBatch(ctx context.Context, t *TopicResource, entries []PublishBatchEntry) ([]PublishBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	results := make([]PublishBatchResult, 0, len(entries))
	for _, e := range entries {
		out, err := b.Publish(ctx, t, e.Input)
		if err != nil {
			results = append(results, PublishBatchResult{ID: e.ID, Err: err.(*Error)})
			continue
		}
		results = append(results, PublishBatchResult{ID: e.ID, Output: out})
	}
	return results, nil
}
