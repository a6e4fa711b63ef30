package queuemessage

// ====================================================================================
// This file defines the input contract for the decoder. Any queue client type can be
// decoded as long as it can hand over the base64 text of its message body.
// ====================================================================================

// Message is the minimal view of a transport-level queue message. MessageText
// returns the body exactly as the queue service delivered it: base64-encoded
// UTF-8 text, usually JSON.
type Message interface {
	MessageText() string
}

// Text adapts a raw base64 string to the Message interface. It is useful when
// the body has already been pulled out of a client-specific envelope, such as
// the `data` field of a Pub/Sub push request.
type Text string

// MessageText returns the string itself.
func (t Text) MessageText() string { return string(t) }
