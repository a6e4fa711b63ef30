package messagepipeline

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// SQSAPI is the subset of the SQS client used by SQSConsumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConsumerConfig holds configuration for the SQS consumer.
type SQSConsumerConfig struct {
	QueueURL string
	// MaxMessages per receive call, 1 to 10.
	MaxMessages int32
	// WaitTimeSeconds enables long polling, 0 to 20.
	WaitTimeSeconds int32
	// VisibilityTimeout overrides the queue default when positive.
	VisibilityTimeout int32
	BufferSize        int
}

// LoadSQSConsumerConfigFromEnv loads SQS consumer configuration from environment variables.
func LoadSQSConsumerConfigFromEnv() (*SQSConsumerConfig, error) {
	cfg := &SQSConsumerConfig{
		QueueURL:        os.Getenv("SQS_QUEUE_URL"),
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("SQS_QUEUE_URL environment variable not set for SQS consumer")
	}
	if v := os.Getenv("SQS_VISIBILITY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VisibilityTimeout = int32(n)
		}
	}
	return cfg, nil
}

// SQSConsumer implements MessageConsumer with SQS long polling. Ack deletes
// the message; Nack makes it visible again immediately.
type SQSConsumer struct {
	client     SQSAPI
	cfg        SQSConsumerConfig
	logger     zerolog.Logger
	outputChan chan types.ConsumedMessage
	doneChan   chan struct{}
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

// NewSQSConsumer creates a consumer for cfg.QueueURL using client.
func NewSQSConsumer(client SQSAPI, cfg *SQSConsumerConfig, logger zerolog.Logger) (*SQSConsumer, error) {
	if client == nil {
		return nil, errors.New("sqs client cannot be nil")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}
	c := *cfg
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		c.WaitTimeSeconds = 20
	}
	return &SQSConsumer{
		client:     client,
		cfg:        c,
		logger:     logger.With().Str("component", "SQSConsumer").Str("queue_url", c.QueueURL).Logger(),
		outputChan: make(chan types.ConsumedMessage, max(c.BufferSize, 1)),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages.
func (c *SQSConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

// Done returns a channel that is closed once the consumer has stopped.
func (c *SQSConsumer) Done() <-chan struct{} { return c.doneChan }

// Start launches the receive loop.
func (c *SQSConsumer) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)
		c.logger.Info().Msg("SQS receive loop started.")

		for loopCtx.Err() == nil {
			input := &sqs.ReceiveMessageInput{
				QueueUrl:              aws.String(c.cfg.QueueURL),
				MaxNumberOfMessages:   c.cfg.MaxMessages,
				WaitTimeSeconds:       c.cfg.WaitTimeSeconds,
				MessageAttributeNames: []string{"All"},
				AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
			}
			if c.cfg.VisibilityTimeout > 0 {
				input.VisibilityTimeout = c.cfg.VisibilityTimeout
			}

			resp, err := c.client.ReceiveMessage(loopCtx, input)
			if err != nil {
				if loopCtx.Err() != nil {
					break
				}
				c.logger.Error().Err(err).Msg("SQS receive failed, backing off.")
				select {
				case <-time.After(time.Second):
				case <-loopCtx.Done():
				}
				continue
			}

			for _, m := range resp.Messages {
				msg := c.newMessage(m)
				select {
				case c.outputChan <- msg:
				case <-loopCtx.Done():
					msg.Nack()
				}
			}
		}
		c.logger.Info().Msg("SQS receive loop stopped.")
	}()
	return nil
}

func (c *SQSConsumer) newMessage(m sqstypes.Message) types.ConsumedMessage {
	id := aws.ToString(m.MessageId)
	receipt := m.ReceiptHandle

	attributes := make(map[string]string, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			attributes[k] = *v.StringValue
		}
	}

	msg := types.ConsumedMessage{
		ID:         id,
		Payload:    []byte(aws.ToString(m.Body)),
		Attributes: attributes,
	}
	if n, err := strconv.Atoi(m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		msg.DequeueCount = n
	}
	if ms, err := strconv.ParseInt(m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		msg.PublishTime = time.UnixMilli(ms).UTC()
	}

	var settle sync.Once
	msg.Ack = func() {
		settle.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(c.cfg.QueueURL),
				ReceiptHandle: receipt,
			}); err != nil {
				c.logger.Error().Err(err).Str("msg_id", id).Msg("Failed to delete SQS message")
			}
		})
	}
	msg.Nack = func() {
		settle.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(c.cfg.QueueURL),
				ReceiptHandle:     receipt,
				VisibilityTimeout: 0,
			}); err != nil {
				c.logger.Error().Err(err).Str("msg_id", id).Msg("Failed to release SQS message")
			}
		})
	}
	return msg
}

// Stop ends the receive loop and releases any buffered messages.
func (c *SQSConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping SQS consumer...")
		if c.cancel == nil {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		c.cancel()
		<-c.doneChan
		for msg := range c.outputChan {
			msg.Nack()
		}
	})
	return nil
}
