package bus

import (
	"fmt"
	"sync"
	"time"
)

// Topic attribute names the engine treats specially.
const (
	TopicAttrDisplayName               = "DisplayName"
	TopicAttrFifoTopic                 = "FifoTopic"
	TopicAttrContentBasedDeduplication = "ContentBasedDeduplication"
	TopicAttrDeliveryPolicy            = "DeliveryPolicy"
	TopicAttrTopicArn                  = "TopicArn"
)

// SubscriptionAttrRawMessageDelivery and SubscriptionAttrFilterPolicy are
// the two subscription attributes the publish engine inspects directly.
const (
	SubscriptionAttrRawMessageDelivery = "RawMessageDelivery"
	SubscriptionAttrFilterPolicy       = "FilterPolicy"
)

// TopicResource is a created topic's state.
type TopicResource struct {
	Name    string
	region  string
	account string

	createdAt time.Time

	fifo                bool
	contentBasedDedup   bool

	mu         sync.RWMutex
	attributes map[string]string
	tags       map[string]string
}

func newTopicResource(name, region, account string, attrs map[string]string) *TopicResource {
	t := &TopicResource{
		Name:       name,
		region:     region,
		account:    account,
		createdAt:  time.Now().UTC(),
		attributes: map[string]string{},
		tags:       map[string]string{},
	}
	t.fifo = len(name) > 5 && name[len(name)-5:] == ".fifo"
	for k, v := range attrs {
		t.attributes[k] = v
	}
	if v, ok := attrs[TopicAttrContentBasedDeduplication]; ok && v == "true" {
		t.contentBasedDedup = true
	}
	return t
}

// Arn returns the topic's computed ARN.
func (t *TopicResource) Arn() string {
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", t.region, t.account, t.Name)
}

// IsFifo reports whether this topic is a FIFO topic.
func (t *TopicResource) IsFifo() bool { return t.fifo }

// ContentBasedDeduplication reports the topic-level dedup default, used
// when a FIFO subscription send omits an explicit dedup id.
func (t *TopicResource) ContentBasedDeduplication() bool { return t.contentBasedDedup }

func (t *TopicResource) attributesSnapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.attributes)+1)
	for k, v := range t.attributes {
		out[k] = v
	}
	out[TopicAttrTopicArn] = t.Arn()
	return out
}

// Subscription is a topic's fan-out target.
type Subscription struct {
	Arn       string
	TopicArn  string
	Protocol  string
	Endpoint  string
	createdAt time.Time

	mu         sync.RWMutex
	attributes map[string]string
}

func newSubscription(arn, topicArn, protocol, endpoint string, attrs map[string]string) *Subscription {
	s := &Subscription{
		Arn:        arn,
		TopicArn:   topicArn,
		Protocol:   protocol,
		Endpoint:   endpoint,
		createdAt:  time.Now().UTC(),
		attributes: map[string]string{},
	}
	for k, v := range attrs {
		s.attributes[k] = v
	}
	return s
}

// RawMessageDelivery reports whether this subscription forwards the
// published body verbatim rather than wrapping it in a notification
// envelope.
func (s *Subscription) RawMessageDelivery() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attributes[SubscriptionAttrRawMessageDelivery] == "true"
}

// FilterPolicy returns the subscription's raw FilterPolicy JSON, or "" if
// none is set.
func (s *Subscription) FilterPolicy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attributes[SubscriptionAttrFilterPolicy]
}

func (s *Subscription) attributesSnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.attributes))
	for k, v := range s.attributes {
		out[k] = v
	}
	return out
}

func (s *Subscription) setAttribute(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes[name] = value
}
