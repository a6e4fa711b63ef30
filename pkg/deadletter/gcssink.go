package deadletter

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// GCSSinkConfig configures a GCSSink.
type GCSSinkConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSSink writes one gzip-compressed JSON object per dead-lettered message,
// named prefix/YYYY-MM-DD/<message id>-<uuid>.json.gz by failure date.
type GCSSink struct {
	client GCSClient
	cfg    GCSSinkConfig
	logger zerolog.Logger
}

// NewGCSSink creates a sink writing to cfg.BucketName.
func NewGCSSink(client GCSClient, cfg GCSSinkConfig, logger zerolog.Logger) (*GCSSink, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "GCSDeadLetterSink").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// DeadLetter uploads the record and returns once the object is committed.
func (s *GCSSink) DeadLetter(ctx context.Context, msg types.ConsumedMessage, cause error) error {
	record := NewRecord(msg, cause)
	objectName := s.objectName(record)

	// Cancelling the writer's context aborts a partial upload.
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gcsWriter := s.client.Bucket(s.cfg.BucketName).Object(objectName).NewWriter(uploadCtx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() {
			pw.CloseWithError(err)
		}()

		gz := gzip.NewWriter(pw)
		if err = json.NewEncoder(gz).Encode(record); err != nil {
			err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
			return
		}
		if err = gz.Close(); err != nil {
			err = fmt.Errorf("gzip writer close failed for %s: %w", objectName, err)
		}
	}()

	bytesWritten, copyErr := io.Copy(gcsWriter, pr)
	if copyErr != nil {
		cancel()
		_ = gcsWriter.Close()
		_ = pr.CloseWithError(copyErr)
		return fmt.Errorf("failed to stream dead-letter record to %s: %w", objectName, copyErr)
	}
	if err := gcsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, err)
	}

	s.logger.Info().
		Str("msg_id", msg.ID).
		Str("object_name", objectName).
		Int64("bytes_written", bytesWritten).
		Msg("Message dead-lettered.")
	return nil
}

func (s *GCSSink) objectName(r Record) string {
	id := r.ID
	if id == "" {
		id = "unknown"
	}
	return path.Join(s.cfg.ObjectPrefix, r.FailedAt.Format("2006-01-02"), fmt.Sprintf("%s-%s.json.gz", strings.ReplaceAll(id, "/", "_"), uuid.NewString()))
}
