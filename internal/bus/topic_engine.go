package bus

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// CreateTopic creates a topic named name with the given attributes and tags.
func (b *Bus) CreateTopic(ctx context.Context, name string, attrs, tags map[string]string) (*TopicResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	t := newTopicResource(name, b.cfg.Region, b.cfg.Account, attrs)
	for k, v := range tags {
		t.tags[k] = v
	}

	b.topicsMu.Lock()
	if existing, ok := b.topics[t.Arn()]; ok {
		b.topicsMu.Unlock()
		return existing, nil
	}
	b.topics[t.Arn()] = t
	b.topicsMu.Unlock()

	return t, nil
}

// GetTopic resolves a topic by arn, returning TopicNotFound otherwise.
func (b *Bus) GetTopic(arn string) (*TopicResource, error) {
	b.topicsMu.RLock()
	defer b.topicsMu.RUnlock()
	t, ok := b.topics[arn]
	if !ok {
		return nil, errTopicNotFound(arn)
	}
	return t, nil
}

// DeleteTopic removes a topic and every subscription that belongs to it.
func (b *Bus) DeleteTopic(ctx context.Context, arn string) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}

	b.topicsMu.Lock()
	if _, ok := b.topics[arn]; !ok {
		b.topicsMu.Unlock()
		return errTopicNotFound(arn)
	}
	delete(b.topics, arn)
	b.topicsMu.Unlock()

	b.subsMu.Lock()
	for subArn, s := range b.subs {
		if s.TopicArn == arn {
			delete(b.subs, subArn)
		}
	}
	b.subsMu.Unlock()

	return nil
}

// ListTopics returns a page of topic arns, lexically ordered for stable
// pagination.
func (b *Bus) ListTopics(max int, token string) (arns []string, nextToken string, err error) {
	b.topicsMu.RLock()
	all := make([]string, 0, len(b.topics))
	for arn := range b.topics {
		all = append(all, arn)
	}
	b.topicsMu.RUnlock()

	sort.Strings(all)
	return GetPage(all, func(a string) string { return a }, max, token)
}

// SetTopicAttributes merges attrs into the topic's attribute map.
func (b *Bus) SetTopicAttributes(ctx context.Context, t *TopicResource, attrs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range attrs {
		t.attributes[k] = v
	}
	if v, ok := attrs[TopicAttrContentBasedDeduplication]; ok {
		t.contentBasedDedup = v == "true"
	}
	return nil
}

// GetTopicAttributes returns the topic's attribute map plus its arn.
func (b *Bus) GetTopicAttributes(arn string) (map[string]string, error) {
	t, err := b.GetTopic(arn)
	if err != nil {
		return nil, err
	}
	return t.attributesSnapshot(), nil
}

// Subscribe creates a subscription of protocol/endpoint to topicArn.
func (b *Bus) Subscribe(ctx context.Context, topicArn, protocol, endpoint string, attrs map[string]string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}
	if _, err := b.GetTopic(topicArn); err != nil {
		return nil, err
	}

	arn := fmt.Sprintf("%s:%s", topicArn, uuid.New().String())
	s := newSubscription(arn, topicArn, protocol, endpoint, attrs)

	b.subsMu.Lock()
	b.subs[arn] = s
	b.subsMu.Unlock()

	return s, nil
}

// Unsubscribe removes a subscription by arn.
func (b *Bus) Unsubscribe(ctx context.Context, arn string) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if _, ok := b.subs[arn]; !ok {
		return errSubscriptionNotFound(arn)
	}
	delete(b.subs, arn)
	return nil
}

// GetSubscription resolves a subscription by arn.
func (b *Bus) GetSubscription(arn string) (*Subscription, error) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	s, ok := b.subs[arn]
	if !ok {
		return nil, errSubscriptionNotFound(arn)
	}
	return s, nil
}

// GetSubscriptionAttributes returns a subscription's attribute map.
func (b *Bus) GetSubscriptionAttributes(arn string) (map[string]string, error) {
	s, err := b.GetSubscription(arn)
	if err != nil {
		return nil, err
	}
	return s.attributesSnapshot(), nil
}

// SetSubscriptionAttributes sets a single named attribute.
func (b *Bus) SetSubscriptionAttributes(ctx context.Context, arn, name, value string) error {
	if err := ctx.Err(); err != nil {
		return errCancelled()
	}
	s, err := b.GetSubscription(arn)
	if err != nil {
		return err
	}
	s.setAttribute(name, value)
	return nil
}

// ListSubscriptionsByTopic returns a page of subscriptions belonging to
// topicArn, ordered by arn for stable pagination.
func (b *Bus) ListSubscriptionsByTopic(topicArn string, max int, token string) ([]*Subscription, string, error) {
	b.subsMu.RLock()
	all := make([]*Subscription, 0)
	for _, s := range b.subs {
		if s.TopicArn == topicArn {
			all = append(all, s)
		}
	}
	b.subsMu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Arn < all[j].Arn })
	return GetPage(all, func(s *Subscription) string { return s.Arn }, max, token)
}

// ListSubscriptions returns a page of every subscription across all topics.
func (b *Bus) ListSubscriptions(max int, token string) ([]*Subscription, string, error) {
	b.subsMu.RLock()
	all := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		all = append(all, s)
	}
	b.subsMu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Arn < all[j].Arn })
	return GetPage(all, func(s *Subscription) string { return s.Arn }, max, token)
}
