package messagepipeline

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/rs/zerolog"
)

// QueuePublisher sends values onto a queue in the base64 JSON encoding that the
// decoders in this module expect.
type QueuePublisher interface {
	// Publish JSON-encodes v and publishes it, returning the broker message ID.
	Publish(ctx context.Context, v any, attributes map[string]string) (string, error)
	// PublishText publishes s as a base64 text body.
	PublishText(ctx context.Context, s string, attributes map[string]string) (string, error)
	Stop()
}

// GoogleQueuePublisher implements QueuePublisher on a Pub/Sub topic. Each
// call waits for the publish result.
type GoogleQueuePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGoogleQueuePublisher creates a publisher for topicID. The client is not
// closed by the publisher.
func NewGoogleQueuePublisher(client *pubsub.Client, topicID string, logger zerolog.Logger) (*GoogleQueuePublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if topicID == "" {
		return nil, errors.New("topic ID is required")
	}
	return &GoogleQueuePublisher{
		topic:  client.Topic(topicID),
		logger: logger.With().Str("component", "GoogleQueuePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish encodes v and sends it.
func (p *GoogleQueuePublisher) Publish(ctx context.Context, v any, attributes map[string]string) (string, error) {
	body, err := queuemessage.Encode(v)
	if err != nil {
		return "", err
	}
	return p.send(ctx, body, attributes)
}

// PublishText encodes s and sends it.
func (p *GoogleQueuePublisher) PublishText(ctx context.Context, s string, attributes map[string]string) (string, error) {
	return p.send(ctx, queuemessage.EncodeString(s), attributes)
}

func (p *GoogleQueuePublisher) send(ctx context.Context, body string, attributes map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       []byte(body),
		Attributes: attributes,
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug().Str("msg_id", msgID).Msg("Message published.")
	return msgID, nil
}

// Stop flushes any pending messages for the topic.
func (p *GoogleQueuePublisher) Stop() {
	p.topic.Stop()
}
