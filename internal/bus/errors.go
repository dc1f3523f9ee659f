// Package bus implements the in-memory queue/topic engine: the neutral core
// that a wire-protocol adapter sits in front of. Nothing in this package
// talks to a network or a provider-specific wire shape. Message timing
// (timers, sleeps, sent/receive timestamps) goes through
// internal/clock.Clock; the creation and last-modified timestamps of queues,
// topics, subscriptions, and move tasks are taken from time.Now.
package bus

import (
	"fmt"
	"net/http"
)

// Kind enumerates every error category the engine can raise. It is the
// tagged-error-variant replacement for exception-carrying error codes: a
// wire adapter owns the Kind -> (HTTP status, wire error code) mapping, the
// engine only ever deals in Kind.
type Kind int

const (
	KindQueueNotFound Kind = iota
	KindTopicNotFound
	KindSubscriptionNotFound
	KindReceiptHandleInvalid
	KindInvalidParameter
	KindPayloadTooLarge
	KindBatchTooLong
	KindDependencyMissing
	KindDestinationNotFound
	KindInvalidSource
	KindUnsupportedOperation
	KindCancelled
	KindInternal
)

// String returns the Kind's stable name, suitable for logging and for an
// adapter building a wire error code from it.
func (k Kind) String() string {
	switch k {
	case KindQueueNotFound:
		return "QueueNotFound"
	case KindTopicNotFound:
		return "TopicNotFound"
	case KindSubscriptionNotFound:
		return "SubscriptionNotFound"
	case KindReceiptHandleInvalid:
		return "ReceiptHandleInvalid"
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindBatchTooLong:
		return "BatchTooLong"
	case KindDependencyMissing:
		return "DependencyMissing"
	case KindDestinationNotFound:
		return "DestinationNotFound"
	case KindInvalidSource:
		return "InvalidSource"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindCancelled:
		return "Cancelled"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// HTTPStatus returns the status code an adapter should use for this Kind,
// per spec §7's error table.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindQueueNotFound, KindReceiptHandleInvalid, KindInvalidParameter,
		KindPayloadTooLarge, KindBatchTooLong, KindDependencyMissing,
		KindDestinationNotFound, KindInvalidSource, KindUnsupportedOperation:
		return http.StatusBadRequest
	case KindTopicNotFound, KindSubscriptionNotFound:
		return http.StatusNotFound
	case KindCancelled:
		return 499
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the engine's single error type. Every error the bus raises is an
// *Error; callers type-assert (errors.As) to recover the Kind rather than
// matching on sentinel values.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WithDetail attaches a key/value pair for diagnostics and returns the same
// Error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func errQueueNotFound(nameOrURL string) *Error {
	return newErr(KindQueueNotFound, "queue %q does not exist", nameOrURL)
}

func errTopicNotFound(arn string) *Error {
	return newErr(KindTopicNotFound, "topic %q does not exist", arn)
}

func errSubscriptionNotFound(arn string) *Error {
	return newErr(KindSubscriptionNotFound, "subscription %q does not exist", arn)
}

func errReceiptHandleInvalid(reason string) *Error {
	return newErr(KindReceiptHandleInvalid, "receipt handle invalid: %s", reason)
}

func errInvalidParameter(format string, args ...any) *Error {
	return newErr(KindInvalidParameter, format, args...)
}

func errPayloadTooLarge(size, limit int) *Error {
	return newErr(KindPayloadTooLarge, "message size %d exceeds limit %d", size, limit)
}

func errBatchTooLong(size, limit int) *Error {
	return newErr(KindBatchTooLong, "batch size %d exceeds limit %d", size, limit)
}

func errDependencyMissing(format string, args ...any) *Error {
	return newErr(KindDependencyMissing, format, args...)
}

func errDestinationNotFound(arn string) *Error {
	return newErr(KindDestinationNotFound, "destination %q does not exist", arn)
}

func errInvalidSource(arn string) *Error {
	return newErr(KindInvalidSource, "source %q is not the dead-letter queue of any queue", arn)
}

func errUnsupportedOperation(format string, args ...any) *Error {
	return newErr(KindUnsupportedOperation, format, args...)
}

func errCancelled() *Error {
	return newErr(KindCancelled, "operation cancelled")
}

func errInternal(format string, args ...any) *Error {
	return newErr(KindInternal, format, args...)
}
