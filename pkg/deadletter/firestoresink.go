package deadletter

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// FirestoreSinkConfig configures a FirestoreSink.
type FirestoreSinkConfig struct {
	Collection string
}

// FirestoreSink stores each record as a document in a Firestore collection.
// Document IDs are generated: message IDs may contain '/' and MQTT IDs repeat
// across sessions. The original ID is kept in the document's id field.
type FirestoreSink struct {
	client *firestore.Client
	cfg    FirestoreSinkConfig
	logger zerolog.Logger
}

// NewFirestoreSink creates a sink on cfg.Collection. The caller owns the
// client and closes it.
func NewFirestoreSink(client *firestore.Client, cfg FirestoreSinkConfig, logger zerolog.Logger) (*FirestoreSink, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil for dead-letter sink")
	}
	if cfg.Collection == "" {
		return nil, errors.New("dead-letter collection name is required")
	}
	return &FirestoreSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "FirestoreDeadLetterSink").Str("collection", cfg.Collection).Logger(),
	}, nil
}

// DeadLetter creates one document for the record.
func (s *FirestoreSink) DeadLetter(ctx context.Context, msg types.ConsumedMessage, cause error) error {
	record := NewRecord(msg, cause)
	doc := s.client.Collection(s.cfg.Collection).NewDoc()
	if _, err := doc.Create(ctx, record); err != nil {
		return fmt.Errorf("firestore Create for %s: %w", msg.ID, err)
	}
	s.logger.Info().
		Str("msg_id", msg.ID).
		Str("doc_id", doc.ID).
		Str("kind", string(record.Kind)).
		Msg("Message dead-lettered.")
	return nil
}
