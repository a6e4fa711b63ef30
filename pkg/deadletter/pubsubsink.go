package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// PubsubSink publishes each Record as JSON to a dead-letter topic. The
// record's annotations are repeated as message attributes for filtering.
type PubsubSink struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubsubSink creates a sink on topicID. The topic must exist.
func NewPubsubSink(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubsubSink, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for dead-letter sink")
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of dead-letter topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("dead-letter topic %s does not exist", topicID)
	}
	return &PubsubSink{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubDeadLetterSink").Str("topic_id", topicID).Logger(),
	}, nil
}

// DeadLetter publishes the record and waits for the result.
func (s *PubsubSink) DeadLetter(ctx context.Context, msg types.ConsumedMessage, cause error) error {
	record := NewRecord(msg, cause)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter record for %s: %w", msg.ID, err)
	}
	id, err := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: record.attributes()}).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish dead-letter record for %s: %w", msg.ID, err)
	}
	s.logger.Info().Str("msg_id", msg.ID).Str("dl_msg_id", id).Str("kind", string(record.Kind)).Msg("Message dead-lettered.")
	return nil
}

// Stop flushes the topic's publish buffers.
func (s *PubsubSink) Stop() {
	s.topic.Stop()
}
