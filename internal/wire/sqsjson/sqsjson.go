// Package sqsjson is a thin adapter from the AWS SQS JSON protocol
// (X-Amz-Target: AmazonSQS.<Action>, JSON request/response bodies) onto
// internal/bus. It owns wire framing and the bus.Kind -> HTTP status/error
// code mapping; it holds no state of its own.
package sqsjson

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.msgemu.dev/internal/bus"
	"go.msgemu.dev/internal/busmetrics"
)

// Adapter dispatches AmazonSQS.* actions against a *bus.Bus.
type Adapter struct {
	Bus        *bus.Bus
	ServiceURL string
}

// New builds an Adapter.
func New(b *bus.Bus, serviceURL string) *Adapter {
	return &Adapter{Bus: b, ServiceURL: serviceURL}
}

// ServeHTTP implements the single-endpoint AWS JSON 1.0 dispatch: every
// action is a POST to "/" with the action name carried in the
// X-Amz-Target header, e.g. "AmazonSQS.SendMessage".
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	action := actionFromTarget(r.Header.Get("X-Amz-Target"))

	var status int
	defer func() {
		busmetrics.HTTPRequestsTotal.WithLabelValues(action, http.StatusText(status)).Inc()
		busmetrics.HTTPRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	handler, ok := handlers[action]
	if !ok {
		status = http.StatusBadRequest
		writeError(w, status, "InvalidAction", "unknown action "+action)
		return
	}

	status = handler(a, w, r)
}

func actionFromTarget(target string) string {
	idx := strings.LastIndex(target, ".")
	if idx < 0 {
		return target
	}
	return target[idx+1:]
}

var handlers = map[string]func(*Adapter, http.ResponseWriter, *http.Request) int{
	"CreateQueue":                  (*Adapter).handleCreateQueue,
	"GetQueueUrl":                  (*Adapter).handleGetQueueURL,
	"DeleteQueue":                  (*Adapter).handleDeleteQueue,
	"ListQueues":                   (*Adapter).handleListQueues,
	"GetQueueAttributes":           (*Adapter).handleGetQueueAttributes,
	"SetQueueAttributes":           (*Adapter).handleSetQueueAttributes,
	"TagQueue":                     (*Adapter).handleTagQueue,
	"UntagQueue":                   (*Adapter).handleUntagQueue,
	"ListQueueTags":                (*Adapter).handleListQueueTags,
	"SendMessage":                  (*Adapter).handleSendMessage,
	"SendMessageBatch":             (*Adapter).handleSendMessageBatch,
	"ReceiveMessage":               (*Adapter).handleReceiveMessage,
	"DeleteMessage":                (*Adapter).handleDeleteMessage,
	"DeleteMessageBatch":           (*Adapter).handleDeleteMessageBatch,
	"ChangeMessageVisibility":      (*Adapter).handleChangeMessageVisibility,
	"ChangeMessageVisibilityBatch": (*Adapter).handleChangeMessageVisibilityBatch,
	"PurgeQueue":                   (*Adapter).handlePurgeQueue,
	"AddPermission":                (*Adapter).handleAddPermission,
	"RemovePermission":             (*Adapter).handleRemovePermission,
	"StartMessageMoveTask":         (*Adapter).handleStartMessageMoveTask,
	"CancelMessageMoveTask":        (*Adapter).handleCancelMessageMoveTask,
	"ListMessageMoveTasks":         (*Adapter).handleListMessageMoveTasks,
}

// decode reads the JSON request body into v; a malformed body is reported
// as a wire-level InvalidParameter, the same family any other bad input
// would produce.
func decode(r *http.Request, v any) *bus.Error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &bus.Error{Kind: bus.KindInvalidParameter, Message: "malformed request body: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
	return status
}

// wireError is the AWS JSON protocol's error body shape.
type wireError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) int {
	return writeJSON(w, status, wireError{Type: "com.amazonaws.sqs#" + code, Message: message})
}

// writeBusError maps a *bus.Error onto its wire status/code, per
// spec.md §7 (the kind->status table lives in bus.Kind.HTTPStatus).
func writeBusError(w http.ResponseWriter, err error) int {
	be, ok := err.(*bus.Error)
	if !ok {
		return writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
	}
	return writeError(w, be.Kind.HTTPStatus(), be.Kind.String(), be.Message)
}

func attrsToWire(attrs map[string]bus.MessageAttributeValue) map[string]sqstypes.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
	for name, v := range attrs {
		wv := sqstypes.MessageAttributeValue{DataType: strPtr(v.DataType)}
		if v.BinaryValue != nil {
			wv.BinaryValue = v.BinaryValue
		} else {
			wv.StringValue = strPtr(v.StringValue)
		}
		out[name] = wv
	}
	return out
}

func attrsFromWire(attrs map[string]sqstypes.MessageAttributeValue) map[string]bus.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]bus.MessageAttributeValue, len(attrs))
	for name, v := range attrs {
		mv := bus.MessageAttributeValue{DataType: deref(v.DataType)}
		if v.BinaryValue != nil {
			mv.BinaryValue = v.BinaryValue
		} else {
			mv.StringValue = deref(v.StringValue)
		}
		out[name] = mv
	}
	return out
}

func messageToWire(m *bus.Message) sqstypes.Message {
	return sqstypes.Message{
		MessageId:              strPtr(m.ID),
		ReceiptHandle:          strPtr(m.ReceiptHandle),
		Body:                   strPtr(m.Body),
		MD5OfBody:              strPtr(m.MD5OfBody),
		MD5OfMessageAttributes: strPtr(m.MD5OfMessageAttributes),
		Attributes:             m.SystemAttributes,
		MessageAttributes:      attrsToWire(m.Attributes),
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
