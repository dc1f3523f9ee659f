package bus

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReceiptHandle is the decoded form of a receipt-handle token:
// base64("{uuid} {queue-arn} {message-id} {issued-unix-seconds}").
type ReceiptHandle struct {
	UUID      string
	QueueArn  string
	MessageID string
	IssuedAt  time.Time
}

// NewReceiptHandle mints a fresh receipt-handle token for a message just
// popped from a queue.
func NewReceiptHandle(queueArn, messageID string, issuedAt time.Time) string {
	seconds := strconv.FormatFloat(float64(issuedAt.UnixNano())/1e9, 'f', -1, 64)
	raw := strings.Join([]string{uuid.New().String(), queueArn, messageID, seconds}, " ")
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeReceiptHandle decodes a token without checking it against any
// particular queue. Returns KindReceiptHandleInvalid on any structural
// failure (spec.md §3: "decode to 4 whitespace-separated fields").
func DecodeReceiptHandle(handle string) (*ReceiptHandle, error) {
	raw, err := base64.StdEncoding.DecodeString(handle)
	if err != nil {
		return nil, errReceiptHandleInvalid("not valid base64")
	}

	fields := strings.Fields(string(raw))
	if len(fields) != 4 {
		return nil, errReceiptHandleInvalid("expected 4 fields")
	}

	seconds, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, errReceiptHandleInvalid("issued-at field is not numeric")
	}

	return &ReceiptHandle{
		UUID:      fields[0],
		QueueArn:  fields[1],
		MessageID: fields[2],
		IssuedAt:  time.Unix(0, int64(seconds*float64(time.Second))),
	}, nil
}

// ValidateReceiptHandle decodes handle and additionally checks that its
// queue-arn field matches queueArn, case-insensitively.
func ValidateReceiptHandle(handle, queueArn string) (*ReceiptHandle, error) {
	decoded, err := DecodeReceiptHandle(handle)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(decoded.QueueArn, queueArn) {
		return nil, errReceiptHandleInvalid("queue arn does not match")
	}
	return decoded, nil
}
