package loadgen

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubClient publishes queue bodies to a Pub/Sub topic.
type PubsubClient struct {
	client  *pubsub.Client
	topicID string
	topic   *pubsub.Topic
	logger  zerolog.Logger
}

// NewPubsubClient creates a PubsubClient. The caller owns client.
func NewPubsubClient(client *pubsub.Client, topicID string, logger zerolog.Logger) *PubsubClient {
	return &PubsubClient{
		client:  client,
		topicID: topicID,
		logger:  logger.With().Str("component", "PubsubLoadClient").Str("topic_id", topicID).Logger(),
	}
}

// Connect checks that the topic exists.
func (c *PubsubClient) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := c.client.Topic(c.topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existence of topic %s: %w", c.topicID, err)
	}
	if !exists {
		return fmt.Errorf("topic %s does not exist", c.topicID)
	}
	c.topic = topic
	return nil
}

// Disconnect flushes outstanding publishes.
func (c *PubsubClient) Disconnect() {
	if c.topic != nil {
		c.topic.Stop()
	}
}

// Publish sends the device's next body and waits for the server ID.
func (c *PubsubClient) Publish(ctx context.Context, device *Device) (bool, error) {
	body, err := device.NextBody()
	if err != nil {
		return false, err
	}
	result := c.topic.Publish(ctx, &pubsub.Message{
		Data:       []byte(body),
		Attributes: map[string]string{"device_id": device.ID},
	})
	id, err := result.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("pubsub publish error for device %s: %w", device.ID, err)
	}
	c.logger.Debug().Str("device_id", device.ID).Str("msg_id", id).Msg("Message published")
	return true, nil
}
