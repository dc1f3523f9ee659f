// Package busmetrics exposes the engine's Prometheus instrumentation: one
// set of counters/gauges/histograms per bus.Bus operation family, registered
// through promauto the same way the teacher's metrics package does.
package busmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics

	// MessagesSent tracks messages successfully enqueued.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to a queue",
		},
		[]string{"queue"},
	)

	// MessagesReceived tracks messages handed back by a receive call.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "messages_received_total",
			Help:      "Total messages returned by receive calls",
		},
		[]string{"queue"},
	)

	// MessagesDeleted tracks successful deletes.
	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "messages_deleted_total",
			Help:      "Total messages deleted from a queue",
		},
		[]string{"queue"},
	)

	// MessagesDeadLettered tracks promotions to a dead-letter queue.
	MessagesDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "messages_dead_lettered_total",
			Help:      "Total messages promoted to a dead-letter queue on max receive count",
		},
		[]string{"queue"},
	)

	// QueueDepthReady tracks the approximate number of visible messages.
	QueueDepthReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "depth_ready",
			Help:      "Approximate number of messages available for receive",
		},
		[]string{"queue"},
	)

	// QueueDepthInFlight tracks the approximate number of in-flight messages.
	QueueDepthInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "depth_in_flight",
			Help:      "Approximate number of messages currently in flight",
		},
		[]string{"queue"},
	)

	// ReceiveDuration tracks long-poll wait latency per receive call.
	ReceiveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msgemu",
			Subsystem: "queue",
			Name:      "receive_duration_seconds",
			Help:      "Time a receive call spent waiting for a message",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Topic / publish metrics

	// NotificationsPublished tracks Publish calls accepted by a topic.
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "topic",
			Name:      "notifications_published_total",
			Help:      "Total Publish calls accepted by a topic",
		},
		[]string{"topic"},
	)

	// NotificationsDelivered tracks per-subscription successful deliveries.
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "topic",
			Name:      "notifications_delivered_total",
			Help:      "Total notifications delivered to a subscription's endpoint queue",
		},
		[]string{"topic"},
	)

	// NotificationsFiltered tracks subscriptions skipped by filter policy.
	NotificationsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "topic",
			Name:      "notifications_filtered_total",
			Help:      "Total subscriptions skipped due to a non-matching FilterPolicy",
		},
		[]string{"topic"},
	)

	// Move-task metrics

	// MoveTasksStarted tracks message-move tasks started.
	MoveTasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "movetask",
			Name:      "started_total",
			Help:      "Total message-move tasks started",
		},
		[]string{"source"},
	)

	// MoveTasksMessagesMoved tracks messages relocated by move tasks.
	MoveTasksMessagesMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "movetask",
			Name:      "messages_moved_total",
			Help:      "Total messages relocated by message-move tasks",
		},
		[]string{"source"},
	)

	// MoveTasksActive tracks currently running move tasks.
	MoveTasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "msgemu",
			Subsystem: "movetask",
			Name:      "active",
			Help:      "Number of message-move tasks currently running",
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal tracks wire-adapter HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgemu",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled by the wire adapters",
		},
		[]string{"action", "status"},
	)

	// HTTPRequestDuration tracks wire-adapter HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msgemu",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Wire-adapter HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)
