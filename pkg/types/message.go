package types

import (
	"time"
)

// ConsumedMessage is the broker-neutral envelope every consumer emits. The
// Payload holds the message body exactly as the queue delivered it, which for
// the queues this module reads is base64-encoded JSON text.
type ConsumedMessage struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Attributes carries broker metadata such as Pub/Sub attributes or SQS
	// message attributes. It may be nil.
	Attributes map[string]string
	// DequeueCount is how many times the broker has delivered this message,
	// when the broker reports it. Zero means unknown.
	DequeueCount int
	// Ack is a function to call to acknowledge that the message has been
	// successfully processed.
	Ack func()
	// Nack is a function to call to signal that processing has failed and the
	// message should be re-queued or sent to a dead-letter queue.
	Nack func()
}

// MessageText returns the payload as text so a ConsumedMessage can be handed
// straight to the queuemessage decoders.
func (m ConsumedMessage) MessageText() string {
	return string(m.Payload)
}

// DecodedMessage links a raw ConsumedMessage with its successfully decoded
// payload of type T, so the final processing stage can work with typed data
// while keeping the ability to Ack/Nack the OriginalMessage.
type DecodedMessage[T any] struct {
	// OriginalMessage is the message as it was received from the consumer.
	OriginalMessage ConsumedMessage
	// Payload is the structured data of type T, created by the transformer.
	Payload *T
}
