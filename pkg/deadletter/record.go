package deadletter

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
)

// Kind classifies why a message was dead-lettered.
type Kind string

const (
	KindDecode Kind = "decode"
	KindSchema Kind = "schema"
	KindOther  Kind = "other"
)

// maxAttributeValueLen is the Pub/Sub limit on a single attribute value.
const maxAttributeValueLen = 1024

// Record is the stored form of a dead-lettered message. MessageBody holds the
// body bytes exactly as they arrived and is what a replay should use.
// MessageText is the same body as text for reading; bytes that are not valid
// UTF-8 become U+FFFD once the record is encoded as JSON.
type Record struct {
	ID           string            `json:"id" firestore:"id"`
	MessageBody  []byte            `json:"messageBody" firestore:"messageBody"`
	MessageText  string            `json:"messageText" firestore:"messageText"`
	Reason       string            `json:"reason" firestore:"reason"`
	Kind         Kind              `json:"kind" firestore:"kind"`
	Stage        string            `json:"stage,omitempty" firestore:"stage,omitempty"`
	Field        string            `json:"field,omitempty" firestore:"field,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty" firestore:"attributes,omitempty"`
	DequeueCount int               `json:"dequeueCount,omitempty" firestore:"dequeueCount,omitempty"`
	PublishedAt  time.Time         `json:"publishedAt" firestore:"publishedAt"`
	FailedAt     time.Time         `json:"failedAt" firestore:"failedAt"`
}

// NewRecord builds a Record for msg rejected with cause.
func NewRecord(msg types.ConsumedMessage, cause error) Record {
	r := Record{
		ID:           msg.ID,
		MessageBody:  append([]byte(nil), msg.Payload...),
		MessageText:  msg.MessageText(),
		Kind:         KindOther,
		Attributes:   msg.Attributes,
		DequeueCount: msg.DequeueCount,
		PublishedAt:  msg.PublishTime,
		FailedAt:     time.Now().UTC(),
	}
	if cause != nil {
		r.Reason = cause.Error()
	}

	var decodeErr *queuemessage.DecodeError
	var mismatch *queuemessage.SchemaMismatchError
	switch {
	case errors.As(cause, &decodeErr):
		r.Kind = KindDecode
		r.Stage = string(decodeErr.Stage)
	case errors.As(cause, &mismatch):
		r.Kind = KindSchema
		r.Field = mismatch.Field
	}
	return r
}

// attributes returns the message attributes plus the dead-letter annotations.
// The reason is cut to fit an attribute value; the record keeps it whole.
func (r Record) attributes() map[string]string {
	attrs := make(map[string]string, len(r.Attributes)+3)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs["dl_original_id"] = r.ID
	attrs["dl_kind"] = string(r.Kind)
	attrs["dl_reason"] = truncateUTF8(r.Reason, maxAttributeValueLen)
	return attrs
}

// truncateUTF8 shortens s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
