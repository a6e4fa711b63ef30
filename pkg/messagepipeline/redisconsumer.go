package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// A reliable queue on a Redis list. Producers LPUSH base64 bodies onto Queue;
// the consumer atomically moves each one to ProcessingList while it is in
// flight. Ack removes it from ProcessingList, Nack moves it back onto Queue.
// ====================================================================================

// RedisQueueConsumerConfig holds configuration for the Redis list consumer.
type RedisQueueConsumerConfig struct {
	Addr     string // e.g., "localhost:6379"
	Password string // Leave empty if no password
	DB       int
	// Queue is the list producers push onto.
	Queue string
	// ProcessingList holds in-flight messages. Defaults to Queue + ":processing".
	ProcessingList string
	// BlockTimeout bounds each blocking pop so shutdown is noticed promptly.
	BlockTimeout time.Duration
	BufferSize   int
}

// LoadRedisQueueConsumerConfigFromEnv loads consumer configuration from environment variables.
func LoadRedisQueueConsumerConfigFromEnv() (*RedisQueueConsumerConfig, error) {
	cfg := &RedisQueueConsumerConfig{
		Addr:         os.Getenv("REDIS_ADDR"),
		Password:     os.Getenv("REDIS_PASSWORD"),
		Queue:        os.Getenv("REDIS_QUEUE"),
		BlockTimeout: 2 * time.Second,
		BufferSize:   100,
	}
	if cfg.Addr == "" {
		return nil, errors.New("REDIS_ADDR environment variable not set for Redis consumer")
	}
	if cfg.Queue == "" {
		return nil, errors.New("REDIS_QUEUE environment variable not set for Redis consumer")
	}
	return cfg, nil
}

// RedisQueueConsumer implements MessageConsumer on a Redis list.
type RedisQueueConsumer struct {
	client         *redis.Client
	queue          string
	processingList string
	blockTimeout   time.Duration
	logger         zerolog.Logger
	outputChan     chan types.ConsumedMessage
	doneChan       chan struct{}
	cancel         context.CancelFunc
	stopOnce       sync.Once
}

// NewRedisQueueConsumer connects to Redis and verifies the connection.
func NewRedisQueueConsumer(ctx context.Context, cfg *RedisQueueConsumerConfig, logger zerolog.Logger) (*RedisQueueConsumer, error) {
	if cfg.Queue == "" {
		return nil, errors.New("redis queue name is required")
	}
	processingList := cfg.ProcessingList
	if processingList == "" {
		processingList = cfg.Queue + ":processing"
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Str("queue", cfg.Queue).Msg("Successfully connected to Redis for queue consumer")

	return &RedisQueueConsumer{
		client:         rdb,
		queue:          cfg.Queue,
		processingList: processingList,
		blockTimeout:   blockTimeout,
		logger:         logger.With().Str("component", "RedisQueueConsumer").Str("queue", cfg.Queue).Logger(),
		outputChan:     make(chan types.ConsumedMessage, max(cfg.BufferSize, 1)),
		doneChan:       make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages.
func (c *RedisQueueConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

// Done returns a channel that is closed once the consumer has stopped.
func (c *RedisQueueConsumer) Done() <-chan struct{} { return c.doneChan }

// Start launches the polling loop.
func (c *RedisQueueConsumer) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		c.logger.Info().Msg("Redis consumer loop started.")

		for {
			body, err := c.client.BRPopLPush(loopCtx, c.queue, c.processingList, c.blockTimeout).Result()
			if loopCtx.Err() != nil {
				c.logger.Info().Msg("Redis consumer loop stopping.")
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				c.logger.Error().Err(err).Msg("Failed to pop from Redis queue, backing off.")
				select {
				case <-time.After(time.Second):
					continue
				case <-loopCtx.Done():
					return
				}
			}

			msg := c.newMessage(body)
			select {
			case c.outputChan <- msg:
			case <-loopCtx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return nil
}

func (c *RedisQueueConsumer) newMessage(body string) types.ConsumedMessage {
	id := uuid.NewString()
	var settle sync.Once
	return types.ConsumedMessage{
		ID:          id,
		Payload:     []byte(body),
		PublishTime: time.Now().UTC(),
		Ack: func() {
			settle.Do(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := c.client.LRem(ctx, c.processingList, 1, body).Err(); err != nil {
					c.logger.Error().Err(err).Str("msg_id", id).Msg("Failed to ack message in Redis")
				}
			})
		},
		Nack: func() {
			settle.Do(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.LRem(ctx, c.processingList, 1, body)
					pipe.LPush(ctx, c.queue, body)
					return nil
				})
				if err != nil {
					c.logger.Error().Err(err).Str("msg_id", id).Msg("Failed to requeue message in Redis")
				}
			})
		},
	}
}

// Stop ends the polling loop. Messages already handed out can still be
// settled until Close is called.
func (c *RedisQueueConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Redis consumer...")
		if c.cancel != nil {
			c.cancel()
			<-c.doneChan
			// Anything still buffered goes back on the queue.
			for msg := range c.outputChan {
				msg.Nack()
			}
		} else {
			close(c.outputChan)
			close(c.doneChan)
		}
	})
	return nil
}

// Close closes the Redis client. Call it after the pipeline has stopped.
func (c *RedisQueueConsumer) Close() error {
	c.logger.Info().Msg("Closing Redis client connection...")
	return c.client.Close()
}
