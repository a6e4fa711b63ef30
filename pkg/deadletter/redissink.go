package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// RedisSinkConfig configures a RedisSink.
type RedisSinkConfig struct {
	List string
	// MaxLen caps the list; the oldest records are trimmed. Zero keeps everything.
	MaxLen int64
}

// RedisSink pushes JSON records onto the head of a Redis list.
type RedisSink struct {
	client redis.Cmdable
	cfg    RedisSinkConfig
	logger zerolog.Logger
}

// NewRedisSink creates a sink on cfg.List. The client is not closed by the sink.
func NewRedisSink(client redis.Cmdable, cfg RedisSinkConfig, logger zerolog.Logger) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil for dead-letter sink")
	}
	if cfg.List == "" {
		return nil, errors.New("dead-letter list name is required")
	}
	return &RedisSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "RedisDeadLetterSink").Str("list", cfg.List).Logger(),
	}, nil
}

// DeadLetter stores the record, trimming the list when MaxLen is set.
func (s *RedisSink) DeadLetter(ctx context.Context, msg types.ConsumedMessage, cause error) error {
	record := NewRecord(msg, cause)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter record for %s: %w", msg.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.cfg.List, data)
		if s.cfg.MaxLen > 0 {
			pipe.LTrim(ctx, s.cfg.List, 0, s.cfg.MaxLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push dead-letter record for %s: %w", msg.ID, err)
	}
	s.logger.Info().Str("msg_id", msg.ID).Str("kind", string(record.Kind)).Msg("Message dead-lettered.")
	return nil
}
