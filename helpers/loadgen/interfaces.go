package loadgen

import (
	"context"
)

// PayloadGenerator produces the value a device sends for message seq. A
// string is sent as queue text; anything else is JSON encoded first.
type PayloadGenerator interface {
	GeneratePayload(device *Device, seq int64) (any, error)
}

// Client sends queue-encoded message bodies to one transport.
type Client interface {
	Connect() error
	Disconnect()
	// Publish builds the next body for device and sends it. It reports false
	// without an error when ctx ended before the send completed.
	Publish(ctx context.Context, device *Device) (bool, error)
}
