package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisClient pushes queue bodies onto a Redis list, the producer side of
// the list queue read by the Redis consumer.
type RedisClient struct {
	opts   *redis.Options
	queue  string
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisClient creates a RedisClient for queue.
func NewRedisClient(opts *redis.Options, queue string, logger zerolog.Logger) *RedisClient {
	return &RedisClient{
		opts:   opts,
		queue:  queue,
		logger: logger.With().Str("component", "RedisLoadClient").Str("queue", queue).Logger(),
	}
}

// Connect opens the client and pings the server.
func (c *RedisClient) Connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb := redis.NewClient(c.opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.client = rdb
	return nil
}

// Disconnect closes the client.
func (c *RedisClient) Disconnect() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
}

// Publish pushes the device's next body onto the queue.
func (c *RedisClient) Publish(ctx context.Context, device *Device) (bool, error) {
	body, err := device.NextBody()
	if err != nil {
		return false, err
	}
	if err := c.client.LPush(ctx, c.queue, body).Err(); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("redis push error for device %s: %w", device.ID, err)
	}
	return true, nil
}
