// Package snsxml is a thin adapter from the classic AWS SNS Query/XML
// protocol (form-encoded POST, Action=<Name> parameter, XML response body)
// onto internal/bus. It owns wire framing and the bus.Kind -> HTTP
// status/error code mapping; it holds no state of its own.
package snsxml

import (
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"time"

	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.msgemu.dev/internal/bus"
	"go.msgemu.dev/internal/busmetrics"
)

// Adapter dispatches SNS Query-protocol actions against a *bus.Bus.
type Adapter struct {
	Bus *bus.Bus
}

// New builds an Adapter.
func New(b *bus.Bus) *Adapter {
	return &Adapter{Bus: b}
}

// ServeHTTP implements the single-endpoint Query protocol dispatch: every
// action is a POST to "/" with Action and Version form fields.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := r.ParseForm(); err != nil {
		writeFault(w, http.StatusBadRequest, "InvalidParameterValue", "malformed form body: "+err.Error())
		return
	}

	action := r.Form.Get("Action")
	var status int
	defer func() {
		busmetrics.HTTPRequestsTotal.WithLabelValues(action, http.StatusText(status)).Inc()
		busmetrics.HTTPRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	handler, ok := handlers[action]
	if !ok {
		status = http.StatusBadRequest
		writeFault(w, status, "InvalidAction", "unknown action "+action)
		return
	}
	status = handler(a, w, r)
}

var handlers = map[string]func(*Adapter, http.ResponseWriter, *http.Request) int{
	"CreateTopic":                 (*Adapter).handleCreateTopic,
	"DeleteTopic":                 (*Adapter).handleDeleteTopic,
	"ListTopics":                  (*Adapter).handleListTopics,
	"GetTopicAttributes":          (*Adapter).handleGetTopicAttributes,
	"SetTopicAttributes":          (*Adapter).handleSetTopicAttributes,
	"Subscribe":                   (*Adapter).handleSubscribe,
	"Unsubscribe":                 (*Adapter).handleUnsubscribe,
	"ListSubscriptionsByTopic":    (*Adapter).handleListSubscriptionsByTopic,
	"ListSubscriptions":           (*Adapter).handleListSubscriptions,
	"GetSubscriptionAttributes":   (*Adapter).handleGetSubscriptionAttributes,
	"SetSubscriptionAttributes":   (*Adapter).handleSetSubscriptionAttributes,
	"Publish":                     (*Adapter).handlePublish,
	"PublishBatch":                (*Adapter).handlePublishBatch,
}

// fault is the Query protocol's error body shape.
type fault struct {
	XMLName xml.Name `xml:"ErrorResponse"`
	Error   faultDetail
	RequestId string `xml:"RequestId"`
}

type faultDetail struct {
	Type    string `xml:"Type"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func writeFault(w http.ResponseWriter, status int, code, message string) int {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	xml.NewEncoder(w).Encode(fault{
		Error:     faultDetail{Type: "Sender", Code: code, Message: message},
		RequestId: requestID(),
	})
	return status
}

func writeBusError(w http.ResponseWriter, err error) int {
	be, ok := err.(*bus.Error)
	if !ok {
		return writeFault(w, http.StatusInternalServerError, "InternalError", err.Error())
	}
	return writeFault(w, be.Kind.HTTPStatus(), be.Kind.String(), be.Message)
}

func writeXML(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	xml.NewEncoder(w).Encode(v)
	return status
}

// requestID is a fixed placeholder: spec.md's non-goals explicitly exclude
// provider-specific fidelity, and nothing downstream inspects this value.
func requestID() string { return "00000000-0000-0000-0000-000000000000" }

// responseMetadata is the trailing <ResponseMetadata><RequestId> block
// every SNS Query response carries.
type responseMetadata struct {
	RequestId string `xml:"RequestId"`
}

func newResponseMetadata() responseMetadata { return responseMetadata{RequestId: requestID()} }

// parseEntryMap reads the indexed "<prefix>.entry.<n>.key"/".value" form
// encoding the Query protocol uses for maps (Attributes, Tags).
func parseEntryMap(form url.Values, prefix string) map[string]string {
	out := map[string]string{}
	for i := 1; ; i++ {
		idx := strconv.Itoa(i)
		key := form.Get(prefix + ".entry." + idx + ".key")
		if key == "" {
			break
		}
		out[key] = form.Get(prefix + ".entry." + idx + ".value")
	}
	return out
}

// parseMessageAttributes reads the indexed
// "MessageAttributes.entry.<n>.Name"/".Value.DataType"/".Value.StringValue"
// / ".Value.BinaryValue" (base64) form encoding into the SDK's own
// attribute-value shape, then converts to the engine's neutral type.
func parseMessageAttributes(form url.Values) map[string]bus.MessageAttributeValue {
	parsed := map[string]snstypes.MessageAttributeValue{}
	for i := 1; ; i++ {
		idx := strconv.Itoa(i)
		base := "MessageAttributes.entry." + idx
		name := form.Get(base + ".Name")
		if name == "" {
			break
		}
		dataType := form.Get(base + ".Value.DataType")
		v := snstypes.MessageAttributeValue{DataType: &dataType}
		if raw := form.Get(base + ".Value.BinaryValue"); raw != "" {
			if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
				v.BinaryValue = decoded
			}
		} else {
			sv := form.Get(base + ".Value.StringValue")
			v.StringValue = &sv
		}
		parsed[name] = v
	}
	if len(parsed) == 0 {
		return nil
	}

	out := make(map[string]bus.MessageAttributeValue, len(parsed))
	for name, v := range parsed {
		mv := bus.MessageAttributeValue{}
		if v.DataType != nil {
			mv.DataType = *v.DataType
		}
		if v.BinaryValue != nil {
			mv.BinaryValue = v.BinaryValue
		} else if v.StringValue != nil {
			mv.StringValue = *v.StringValue
		}
		out[name] = mv
	}
	return out
}
