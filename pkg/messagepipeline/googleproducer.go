package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// GooglePubsubProducerConfig holds configuration for the Google Pub/Sub producer.
type GooglePubsubProducerConfig struct {
	ProjectID              string
	TopicID                string
	BatchSize              int
	BatchDelay             time.Duration
	InputChannelMultiplier int // Multiplier for BatchSize to determine input channel capacity
}

// LoadGooglePubsubProducerConfigFromEnv loads producer configuration from environment variables.
func LoadGooglePubsubProducerConfigFromEnv() (*GooglePubsubProducerConfig, error) {
	cfg := &GooglePubsubProducerConfig{
		ProjectID:              os.Getenv("GCP_PROJECT_ID"),
		TopicID:                os.Getenv("PUBSUB_TOPIC_ID_FORWARD"),
		BatchSize:              100,
		BatchDelay:             100 * time.Millisecond,
		InputChannelMultiplier: 2,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub producer")
	}
	if cfg.TopicID == "" {
		return nil, errors.New("PUBSUB_TOPIC_ID_FORWARD environment variable not set for Pub/Sub producer")
	}
	if bs := os.Getenv("PUBSUB_PRODUCER_BATCH_SIZE"); bs != "" {
		if val, err := strconv.Atoi(bs); err == nil {
			cfg.BatchSize = val
		}
	}
	if bd := os.Getenv("PUBSUB_PRODUCER_BATCH_DELAY"); bd != "" {
		if val, err := time.ParseDuration(bd); err == nil {
			cfg.BatchDelay = val
		}
	}
	return cfg, nil
}

// GooglePubsubProducer is a MessageProcessor that forwards decoded payloads to
// another topic, re-encoded as base64 JSON so downstream consumers can read
// them with the same decoder. The original message is Acked once Pub/Sub
// confirms the publish and Nacked otherwise.
type GooglePubsubProducer[T any] struct {
	topic        *pubsub.Topic
	logger       zerolog.Logger
	inputChan    chan *types.DecodedMessage[T]
	doneChan     chan struct{}
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
	stopOnce     sync.Once
	wg           sync.WaitGroup
	batchSize    int
	batchDelay   time.Duration
}

// NewGooglePubsubProducer creates a new GooglePubsubProducer. The client is not
// closed by the producer.
func NewGooglePubsubProducer[T any](
	client *pubsub.Client,
	cfg *GooglePubsubProducerConfig,
	logger zerolog.Logger,
) (*GooglePubsubProducer[T], error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for producer")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.InputChannelMultiplier <= 0 {
		logger.Warn().Int("invalid_multiplier", cfg.InputChannelMultiplier).Msg("InputChannelMultiplier is non-positive. Defaulting to 1.")
		cfg.InputChannelMultiplier = 1
	}

	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	if cfg.BatchDelay < 0 {
		logger.Warn().Dur("invalid_delay", cfg.BatchDelay).Msg("BatchDelay is negative. Time-based batching will be disabled.")
	}

	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())

	return &GooglePubsubProducer[T]{
		topic:        topic,
		logger:       logger.With().Str("component", "GooglePubsubProducer").Str("topic_id", cfg.TopicID).Logger(),
		inputChan:    make(chan *types.DecodedMessage[T], cfg.BatchSize*cfg.InputChannelMultiplier),
		doneChan:     make(chan struct{}),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
		batchSize:    cfg.BatchSize,
		batchDelay:   cfg.BatchDelay,
	}, nil
}

// Input returns the channel to send messages to the producer.
func (p *GooglePubsubProducer[T]) Input() chan<- *types.DecodedMessage[T] {
	return p.inputChan
}

// Start initiates the producer's internal batching loop.
func (p *GooglePubsubProducer[T]) Start() {
	p.logger.Info().Msg("Starting Pub/Sub producer batcher...")
	p.wg.Add(1)
	go p.batchProcessorLoop()
}

func (p *GooglePubsubProducer[T]) batchProcessorLoop() {
	defer p.wg.Done()
	defer func() {
		p.topic.Stop()
		close(p.doneChan)
	}()

	var messages []*types.DecodedMessage[T]

	// A nil ticker channel disables time-based flushing.
	var tickerC <-chan time.Time
	if p.batchDelay > 0 {
		ticker := time.NewTicker(p.batchDelay)
		tickerC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case msg, ok := <-p.inputChan:
			if !ok {
				p.logger.Info().Msg("Producer input channel closed, flushing remaining messages.")
				p.flush(messages)
				return
			}
			messages = append(messages, msg)
			if len(messages) >= p.batchSize {
				p.flush(messages)
				messages = nil
			}
		case <-tickerC:
			if len(messages) > 0 {
				p.flush(messages)
				messages = nil
			}
		case <-p.shutdownCtx.Done():
			// Drain whatever was queued before Stop closed the input.
			for msg := range p.inputChan {
				messages = append(messages, msg)
			}
			p.flush(messages)
			return
		}
	}
}

// flush publishes a batch and settles every original message.
func (p *GooglePubsubProducer[T]) flush(messages []*types.DecodedMessage[T]) {
	if len(messages) == 0 {
		return
	}
	p.logger.Debug().Int("count", len(messages)).Msg("Publishing batch to Pub/Sub.")

	var publishWg sync.WaitGroup
	for _, decoded := range messages {
		body, err := queuemessage.Encode(decoded.Payload)
		if err != nil {
			p.logger.Error().Err(err).Str("original_msg_id", decoded.OriginalMessage.ID).
				Msg("Failed to encode payload for publishing, Nacking original message.")
			nack(decoded.OriginalMessage)
			continue
		}

		publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		res := p.topic.Publish(publishCtx, &pubsub.Message{
			Data:       []byte(body),
			Attributes: decoded.OriginalMessage.Attributes,
		})

		publishWg.Add(1)
		go func(dm *types.DecodedMessage[T]) {
			defer publishWg.Done()
			defer cancel()

			msgID, err := res.Get(publishCtx)
			if err != nil {
				p.logger.Error().Err(err).Str("original_msg_id", dm.OriginalMessage.ID).
					Msg("Failed to get publish result, Nacking original message.")
				nack(dm.OriginalMessage)
				return
			}
			p.logger.Debug().Str("original_msg_id", dm.OriginalMessage.ID).Str("pubsub_msg_id", msgID).
				Msg("Message forwarded.")
			ack(dm.OriginalMessage)
		}(decoded)
	}
	publishWg.Wait()
}

// Stop flushes pending messages and waits for the batching loop to exit.
func (p *GooglePubsubProducer[T]) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info().Msg("Stopping Pub/Sub producer...")
		close(p.inputChan)
		p.shutdownFunc()
		p.wg.Wait()
		p.logger.Info().Msg("Pub/Sub producer stopped gracefully.")
	})
}

// Done returns a channel that is closed when the producer has fully stopped.
func (p *GooglePubsubProducer[T]) Done() <-chan struct{} {
	return p.doneChan
}
