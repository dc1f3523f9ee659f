package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Attribute names the engine treats specially; everything else in the
// caller-supplied attribute map is stored verbatim and returned on Get.
const (
	AttrVisibilityTimeout           = "VisibilityTimeout"
	AttrMessageRetentionPeriod      = "MessageRetentionPeriod"
	AttrDelaySeconds                = "DelaySeconds"
	AttrMaximumMessageSize          = "MaximumMessageSize"
	AttrReceiveMessageWaitTimeSecs  = "ReceiveMessageWaitTimeSeconds"
	AttrRedrivePolicy               = "RedrivePolicy"
	AttrFifoQueue                   = "FifoQueue"
	AttrContentBasedDeduplication   = "ContentBasedDeduplication"
	AttrDeduplicationScope          = "DeduplicationScope"
	AttrFifoThroughputLimit         = "FifoThroughputLimit"
	AttrQueueArn                    = "QueueArn"
	AttrCreatedTimestamp            = "CreatedTimestamp"
	AttrLastModifiedTimestamp       = "LastModifiedTimestamp"
	AttrApproxNumberOfMessages      = "ApproximateNumberOfMessages"
	AttrApproxNumberNotVisible      = "ApproximateNumberOfMessagesNotVisible"
	AttrApproxNumberDelayed         = "ApproximateNumberOfMessagesDelayed"
	AttrPolicy                      = "Policy"

	fairDeduplicationScope  = "messageGroup"
	fairThroughputLimit     = "perMessageGroupId"
)

// computedAttributes are derived on read and rejected on CreateQueue/
// SetQueueAttributes input (spec.md §4.2).
var computedAttributes = map[string]bool{
	AttrQueueArn:               true,
	AttrCreatedTimestamp:       true,
	AttrLastModifiedTimestamp:  true,
	AttrApproxNumberOfMessages: true,
	AttrApproxNumberNotVisible: true,
	AttrApproxNumberDelayed:    true,
}

// RedriveConfig is the resolved dead-letter-queue target for a queue.
type RedriveConfig struct {
	DeadLetterQueueArn string
	MaxReceiveCount    int
}

type inFlightEntry struct {
	message *Message
	timer   timerHandle
}

// timerHandle is satisfied by internal/clock.Timer; declared locally so
// this package does not need to import internal/clock in its type surface.
type timerHandle interface {
	Change(time.Duration)
	Dispose()
}

// QueueResource is a created queue's full runtime state: derived
// configuration plus the concurrency-safe structures the engine mutates on
// every operation.
type QueueResource struct {
	Name    string
	region  string
	account string

	createdAt      time.Time
	lastModifiedAt time.Time

	fifo      bool
	fairQueue bool

	attrMu     sync.RWMutex
	attributes map[string]string
	tags       map[string]string

	visibilityTimeout time.Duration
	messageRetention  time.Duration
	delaySeconds      time.Duration
	receiveWaitTime   time.Duration
	redrive           *RedriveConfig

	ready *readyPool

	groupQueues sync.Map // string(groupID) -> *groupQueueCell
	groupLocks  sync.Map // string(groupID) -> *sync.Mutex, created once, never removed

	inFlight sync.Map // string(receiptHandle) -> *inFlightEntry

	dedup      sync.Map // string(dedupID) -> dedupRecord, queue-wide scope
	groupDedup sync.Map // string(groupID) -> *sync.Map(dedupID->dedupRecord), fair-queue scope
}

// dedupRecord is what a queue's dedup tables map a dedup id to: enough to
// answer a duplicate send without re-reading the original message, which
// may already have left the group by being received (the mapping stays
// until DeleteMessage removes it).
type dedupRecord struct {
	messageID       string
	md5OfBody       string
	md5OfAttributes string
}

// groupQueueCell is a single group's ordered slice. It is mutated and read
// under the group's lock in groupLocks (the "per-group lock" the spec calls
// for), never its own — groupLocks outlives any particular emptying of the
// group, so that lock is the one consistent serializer for the cell.
type groupQueueCell struct {
	messages []*Message
}

func newQueueResource(name, region, account string, attrs map[string]string, defaults BusConfig) (*QueueResource, error) {
	for k := range attrs {
		if computedAttributes[k] {
			return nil, errInvalidParameter("attribute %q is computed and cannot be set", k)
		}
	}

	q := &QueueResource{
		Name:           name,
		region:         region,
		account:        account,
		createdAt:      time.Now().UTC(),
		lastModifiedAt: time.Now().UTC(),
		attributes:     map[string]string{},
		tags:           map[string]string{},
		ready:          newReadyPool(),
	}

	q.fifo = strings.HasSuffix(name, ".fifo")
	if v, ok := attrs[AttrFifoQueue]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			q.fifo = q.fifo || b
		}
	}

	q.visibilityTimeout = defaults.DefaultVisibilityTimeout
	q.messageRetention = defaults.DefaultMessageRetention
	q.receiveWaitTime = defaults.DefaultReceiveWaitTime

	for k, v := range attrs {
		q.attributes[k] = v
	}

	if err := q.applyDerivedAttributes(nil); err != nil {
		return nil, err
	}
	return q, nil
}

// applyDerivedAttributes re-derives visibility timeout, delay, retention,
// receive wait time, the fair-queue flag, and redrive config from the stored
// attribute map. resolveQueue is used to validate RedrivePolicy's target
// exists; nil means "don't validate" (used by newQueueResource, which has no
// bus table to consult; CreateQueue runs it again with a resolver).
func (q *QueueResource) applyDerivedAttributes(resolveQueue func(name string) (*QueueResource, bool)) error {
	q.attrMu.Lock()
	defer q.attrMu.Unlock()

	if v, ok := q.attributes[AttrVisibilityTimeout]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			q.visibilityTimeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := q.attributes[AttrMessageRetentionPeriod]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			q.messageRetention = time.Duration(n) * time.Second
		}
	}
	if v, ok := q.attributes[AttrDelaySeconds]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			q.delaySeconds = time.Duration(n) * time.Second
		}
	}
	if v, ok := q.attributes[AttrReceiveMessageWaitTimeSecs]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			q.receiveWaitTime = time.Duration(n) * time.Second
		}
	}

	q.fairQueue = q.attributes[AttrDeduplicationScope] == fairDeduplicationScope &&
		q.attributes[AttrFifoThroughputLimit] == fairThroughputLimit

	if policy, ok := q.attributes[AttrRedrivePolicy]; ok && policy != "" {
		dlqArn, maxReceive, err := parseRedrivePolicy(policy)
		if err != nil {
			return err
		}
		if resolveQueue != nil {
			dlqName := arnName(dlqArn)
			if _, found := resolveQueue(dlqName); !found {
				return errDependencyMissing("redrive target queue %q does not exist", dlqName)
			}
		}
		q.redrive = &RedriveConfig{DeadLetterQueueArn: dlqArn, MaxReceiveCount: maxReceive}
	} else {
		q.redrive = nil
	}
	return nil
}

// redrivePolicyJSON mirrors the RedrivePolicy attribute's JSON shape:
// {"deadLetterTargetArn": "...", "maxReceiveCount": 5}. maxReceiveCount is
// accepted as either a JSON number or a numeric string, matching the wire
// service's own leniency.
type redrivePolicyJSON struct {
	DeadLetterTargetArn string      `json:"deadLetterTargetArn"`
	MaxReceiveCount      json.Number `json:"maxReceiveCount"`
}

func parseRedrivePolicy(policy string) (arn string, maxReceive int, err error) {
	var parsed redrivePolicyJSON
	if decodeErr := json.Unmarshal([]byte(policy), &parsed); decodeErr != nil {
		return "", 0, errInvalidParameter("RedrivePolicy is not valid JSON: %v", decodeErr)
	}
	if parsed.DeadLetterTargetArn == "" {
		return "", 0, errInvalidParameter("RedrivePolicy missing deadLetterTargetArn")
	}
	n, convErr := parsed.MaxReceiveCount.Int64()
	if convErr != nil {
		return "", 0, errInvalidParameter("RedrivePolicy maxReceiveCount is not an integer")
	}
	return parsed.DeadLetterTargetArn, int(n), nil
}

func arnName(arn string) string {
	idx := strings.LastIndex(arn, ":")
	if idx < 0 {
		return arn
	}
	return arn[idx+1:]
}

// Arn returns the queue's computed ARN.
func (q *QueueResource) Arn() string {
	return fmt.Sprintf("arn:aws:sqs:%s:%s:%s", q.region, q.account, q.Name)
}

// URL returns the queue url. serviceURL, when non-empty, replaces the
// default AWS-style host.
func (q *QueueResource) URL(serviceURL string) string {
	if serviceURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(serviceURL, "/"), q.account, q.Name)
	}
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", q.region, q.account, q.Name)
}

// IsFifo reports whether this queue is a FIFO queue.
func (q *QueueResource) IsFifo() bool { return q.fifo }

// IsFairQueue reports whether this FIFO queue uses per-group dedup scope
// and per-group throughput (spec.md §3's "fair queue" flag).
func (q *QueueResource) IsFairQueue() bool { return q.fairQueue }

// VisibilityTimeout returns the queue's default visibility timeout.
func (q *QueueResource) VisibilityTimeout() time.Duration {
	q.attrMu.RLock()
	defer q.attrMu.RUnlock()
	return q.visibilityTimeout
}

// DelaySeconds returns the queue-level default delay applied to sends that
// do not specify their own delay.
func (q *QueueResource) DelaySeconds() time.Duration {
	q.attrMu.RLock()
	defer q.attrMu.RUnlock()
	return q.delaySeconds
}

// ReceiveWaitTime returns the queue's default long-poll wait time.
func (q *QueueResource) ReceiveWaitTime() time.Duration {
	q.attrMu.RLock()
	defer q.attrMu.RUnlock()
	return q.receiveWaitTime
}

// contentBasedDeduplication reports whether the ContentBasedDeduplication
// attribute is enabled.
func (q *QueueResource) contentBasedDeduplication() bool {
	q.attrMu.RLock()
	defer q.attrMu.RUnlock()
	return q.attributes[AttrContentBasedDeduplication] == "true"
}

// Redrive returns the queue's resolved dead-letter configuration, or nil.
func (q *QueueResource) Redrive() *RedriveConfig {
	q.attrMu.RLock()
	defer q.attrMu.RUnlock()
	return q.redrive
}

// attributesSnapshot returns a copy of the stored attribute map plus the
// computed keys, for GetQueueAttributes.
func (q *QueueResource) attributesSnapshot() map[string]string {
	q.attrMu.RLock()
	out := make(map[string]string, len(q.attributes)+8)
	for k, v := range q.attributes {
		out[k] = v
	}
	q.attrMu.RUnlock()

	out[AttrQueueArn] = q.Arn()
	out[AttrCreatedTimestamp] = strconv.FormatInt(q.createdAt.Unix(), 10)
	out[AttrLastModifiedTimestamp] = strconv.FormatInt(q.lastModifiedAt.Unix(), 10)
	out[AttrApproxNumberOfMessages] = strconv.Itoa(q.approximateNumberOfMessages())
	out[AttrApproxNumberNotVisible] = strconv.Itoa(q.approximateNumberNotVisible())
	// Preserved per spec.md §9's Open Question: always "0". Delayed sends
	// are supported, but nothing counts messages still waiting on a delay.
	out[AttrApproxNumberDelayed] = "0"
	return out
}

func (q *QueueResource) approximateNumberOfMessages() int {
	total := q.ready.len()
	q.groupQueues.Range(func(k, v any) bool {
		groupID := k.(string)
		cell := v.(*groupQueueCell)
		lock := q.groupLock(groupID)
		lock.Lock()
		total += len(cell.messages)
		lock.Unlock()
		return true
	})
	return total
}

func (q *QueueResource) approximateNumberNotVisible() int {
	count := 0
	q.inFlight.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// groupCell returns (creating if absent) the ordered-message cell for a
// group id. The entry is removed from groupQueues once its messages list
// empties (popMessages on receive, and PurgeQueue), but the paired lock in groupLocks is created
// once and never removed, per spec.md §9.
func (q *QueueResource) groupCell(groupID string) *groupQueueCell {
	actual, _ := q.groupQueues.LoadOrStore(groupID, &groupQueueCell{})
	return actual.(*groupQueueCell)
}

func (q *QueueResource) groupLock(groupID string) *sync.Mutex {
	actual, _ := q.groupLocks.LoadOrStore(groupID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (q *QueueResource) dropGroupIfEmpty(groupID string, cell *groupQueueCell) {
	if len(cell.messages) == 0 {
		q.groupQueues.Delete(groupID)
	}
}

// groupDedupMap returns (creating if absent) the per-group dedup map used
// when the queue is a fair queue.
func (q *QueueResource) groupDedupMap(groupID string) *sync.Map {
	actual, _ := q.groupDedup.LoadOrStore(groupID, &sync.Map{})
	return actual.(*sync.Map)
}
