package loadgen

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
)

// Device is one simulated producer.
type Device struct {
	ID               string
	MessageRate      float64
	PayloadGenerator PayloadGenerator
	// PoisonEvery replaces every Nth body with one that is not valid base64,
	// so consumers can exercise their dead-letter path. Zero disables it.
	PoisonEvery int

	seq atomic.Int64
}

// NextBody returns the queue body for the device's next message.
func (d *Device) NextBody() (string, error) {
	n := d.seq.Add(1)
	if d.PoisonEvery > 0 && n%int64(d.PoisonEvery) == 0 {
		return fmt.Sprintf("!poison:%s:%d", d.ID, n), nil
	}

	v, err := d.PayloadGenerator.GeneratePayload(d, n)
	if err != nil {
		return "", fmt.Errorf("failed to generate payload for device %s: %w", d.ID, err)
	}
	if s, ok := v.(string); ok {
		return queuemessage.EncodeString(s), nil
	}
	body, err := queuemessage.Encode(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for device %s: %w", d.ID, err)
	}
	return body, nil
}

// Reading is the payload produced by ReadingGenerator.
type Reading struct {
	DeviceID  string    `json:"deviceId"`
	Sequence  int64     `json:"sequence"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadingGenerator emits Readings with a value drawn uniformly from [Min, Max).
type ReadingGenerator struct {
	Min, Max float64
}

func (g ReadingGenerator) GeneratePayload(device *Device, seq int64) (any, error) {
	return Reading{
		DeviceID:  device.ID,
		Sequence:  seq,
		Value:     g.Min + rand.Float64()*(g.Max-g.Min),
		Timestamp: time.Now().UTC(),
	}, nil
}

// TextGenerator emits plain text from Format, which receives the device ID
// and the sequence number.
type TextGenerator struct {
	Format string
}

func (g TextGenerator) GeneratePayload(device *Device, seq int64) (any, error) {
	return fmt.Sprintf(g.Format, device.ID, seq), nil
}
