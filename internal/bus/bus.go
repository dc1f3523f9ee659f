package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.msgemu.dev/internal/clock"
)

// BusConfig carries the defaults new queues and topics are created with.
// It is a plain value type so this package stays independent of
// internal/emuconfig; cmd/emulator/main.go translates loaded configuration
// into one of these.
type BusConfig struct {
	Region  string
	Account string

	// ServiceURL, when set, is used as the host portion of queue urls
	// instead of the default AWS-style host.
	ServiceURL string

	DefaultVisibilityTimeout time.Duration
	DefaultMessageRetention  time.Duration
	DefaultReceiveWaitTime   time.Duration

	// MaxMoveTaskRate bounds StartMessageMoveTask when the caller omits a
	// rate.
	MaxMoveTaskRate int
}

// Bus is the pluggable in-memory bus: the single owner of every queue,
// topic, subscription, and move-task, plus the time source every operation
// takes from. One Bus corresponds to one account/region pair.
type Bus struct {
	cfg   BusConfig
	clock clock.Clock

	queuesMu sync.RWMutex
	queues   map[string]*QueueResource // keyed by queue name

	topicsMu sync.RWMutex
	topics   map[string]*TopicResource // keyed by topic arn

	subsMu sync.RWMutex
	subs   map[string]*Subscription // keyed by subscription arn

	moveTasksMu sync.RWMutex
	moveTasks   map[string]*MoveTask // keyed by task handle
}

// New creates a Bus. clk is typically clock.NewReal() in production and a
// clock.VirtualClock in tests.
func New(cfg BusConfig, clk clock.Clock) *Bus {
	if cfg.MaxMoveTaskRate <= 0 {
		cfg.MaxMoveTaskRate = 500
	}
	return &Bus{
		cfg:       cfg,
		clock:     clk,
		queues:    make(map[string]*QueueResource),
		topics:    make(map[string]*TopicResource),
		subs:      make(map[string]*Subscription),
		moveTasks: make(map[string]*MoveTask),
	}
}

// CreateQueue creates a queue named name with the given attributes and
// tags. Fails with InvalidParameter if a computed attribute is supplied,
// and DependencyMissing if RedrivePolicy names a queue that does not exist.
func (b *Bus) CreateQueue(ctx context.Context, name string, attrs, tags map[string]string) (*QueueResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled()
	}

	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()

	if existing, ok := b.queues[name]; ok {
		return existing, nil
	}

	q, err := newQueueResource(name, b.cfg.Region, b.cfg.Account, attrs, b.cfg)
	if err != nil {
		return nil, err
	}
	if err := q.applyDerivedAttributes(b.lookupQueueLocked); err != nil {
		return nil, err
	}
	for k, v := range tags {
		q.tags[k] = v
	}

	b.queues[name] = q
	return q, nil
}

// lookupQueueLocked looks a queue up by name; callers must already hold (or
// not need) queuesMu, since this is also used during CreateQueue while the
// write lock is held.
func (b *Bus) lookupQueueLocked(name string) (*QueueResource, bool) {
	q, ok := b.queues[name]
	return q, ok
}

// GetQueue resolves a queue by name, returning QueueNotFound otherwise.
func (b *Bus) GetQueue(name string) (*QueueResource, error) {
	b.queuesMu.RLock()
	defer b.queuesMu.RUnlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, errQueueNotFound(name)
	}
	return q, nil
}

// GetQueueByArn resolves a queue by its full arn.
func (b *Bus) GetQueueByArn(arn string) (*QueueResource, error) {
	return b.GetQueue(arnName(arn))
}

// DeleteQueue removes a queue, disposing the visibility timer of every
// in-flight message it holds. Timers of delayed sends still pending are not
// kept by the queue and are not disposed. Per spec.md §3, the queue's arn is still returned to the caller even
// though the queue table entry is gone.
func (b *Bus) DeleteQueue(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errCancelled()
	}

	b.queuesMu.Lock()
	q, ok := b.queues[name]
	if !ok {
		b.queuesMu.Unlock()
		return "", errQueueNotFound(name)
	}
	arn := q.Arn()
	delete(b.queues, name)
	b.queuesMu.Unlock()

	q.inFlight.Range(func(key, value any) bool {
		entry := value.(*inFlightEntry)
		entry.timer.Dispose()
		q.inFlight.Delete(key)
		return true
	})

	return arn, nil
}

// ListQueues returns a page of queue names matching an optional prefix,
// ordered lexically for stable pagination.
func (b *Bus) ListQueues(prefix string, max int, token string) (names []string, nextToken string, err error) {
	b.queuesMu.RLock()
	all := make([]string, 0, len(b.queues))
	for name := range b.queues {
		if prefix == "" || len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			all = append(all, name)
		}
	}
	b.queuesMu.RUnlock()

	sort.Strings(all)
	return GetPage(all, func(n string) string { return n }, max, token)
}

// Clock returns the bus's time source, for callers (the move-task engine,
// timer-driven tests) that need to read or advance it directly.
func (b *Bus) Clock() clock.Clock { return b.clock }

// Config returns the bus's configuration defaults.
func (b *Bus) Config() BusConfig { return b.cfg }
