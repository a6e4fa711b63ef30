package messagepipeline

import (
	"fmt"

	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
)

// NewDecodingTransformer returns a MessageTransformer that decodes the
// base64 JSON body of each message into T. The options are passed through to
// queuemessage.As, so strictness is fixed when the pipeline is built.
//
// Errors keep their queuemessage type, which lets the ProcessingService tell
// a poisoned message apart from a transient failure.
func NewDecodingTransformer[T any](opts ...queuemessage.Option) MessageTransformer[T] {
	return func(msg types.ConsumedMessage) (*T, bool, error) {
		payload, err := queuemessage.As[T](msg, opts...)
		if err != nil {
			return nil, false, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		return payload, false, nil
	}
}

// StringTransformer decodes each message body to text without interpreting it.
func StringTransformer(msg types.ConsumedMessage) (*string, bool, error) {
	text, err := queuemessage.AsString(msg)
	if err != nil {
		return nil, false, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return &text, false, nil
}

// SkipEmpty wraps a transformer so that messages with an empty body are Acked
// and dropped instead of being decoded.
func SkipEmpty[T any](next MessageTransformer[T]) MessageTransformer[T] {
	return func(msg types.ConsumedMessage) (*T, bool, error) {
		if len(msg.Payload) == 0 {
			return nil, true, nil
		}
		return next(msg)
	}
}
