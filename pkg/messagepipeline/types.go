package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-queuemessage/pkg/types"
)

// ====================================================================================
// This file defines the core interfaces for the consume -> decode -> process
// pipeline. Consumers know about brokers, transformers know about payloads and
// processors know about where decoded data ends up.
// ====================================================================================

// --- Core Pipeline Interfaces ---

// MessageProcessor defines the contract for any component that receives and
// handles decoded messages.
type MessageProcessor[T any] interface {
	// Input returns a write-only channel for sending decoded messages to the processor.
	Input() chan<- *types.DecodedMessage[T]
	// Start begins the processor's operations (e.g., its batching worker).
	Start()
	// Stop gracefully shuts down the processor, ensuring any buffered items are handled.
	Stop()
}

// MessageConsumer defines the interface for a message source (Pub/Sub, Redis,
// MQTT, SQS). It is responsible for fetching raw messages from the broker.
type MessageConsumer interface {
	// Messages returns a read-only channel from which raw messages can be consumed.
	Messages() <-chan types.ConsumedMessage
	// Start initiates the consumption of messages.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// DeadLetterer receives messages that can never be decoded, together with the
// error that condemned them. Implementations live in the deadletter package.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, msg types.ConsumedMessage, cause error) error
}

// --- Transformation Function ---

// MessageTransformer turns a whole ConsumedMessage into a structured payload
// of type T. It has access to all message metadata, not just the body.
//
// It returns the transformed payload, a boolean to indicate if the message
// should be skipped, and an error if the transformation fails.
type MessageTransformer[T any] func(msg types.ConsumedMessage) (payload *T, skip bool, err error)
