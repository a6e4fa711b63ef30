package loadgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// SQSSender is the subset of the SQS client used by SQSClient.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient sends queue bodies to an SQS queue.
type SQSClient struct {
	api      SQSSender
	queueURL string
	logger   zerolog.Logger
}

// NewSQSClient creates an SQSClient for queueURL.
func NewSQSClient(api SQSSender, queueURL string, logger zerolog.Logger) *SQSClient {
	return &SQSClient{
		api:      api,
		queueURL: queueURL,
		logger:   logger.With().Str("component", "SQSLoadClient").Logger(),
	}
}

// Connect validates the client; SQS has no session to open.
func (c *SQSClient) Connect() error {
	if c.api == nil {
		return errors.New("sqs client cannot be nil")
	}
	if c.queueURL == "" {
		return errors.New("sqs queue URL is required")
	}
	return nil
}

func (c *SQSClient) Disconnect() {}

// Publish sends the device's next body with a device_id message attribute.
func (c *SQSClient) Publish(ctx context.Context, device *Device) (bool, error) {
	body, err := device.NextBody()
	if err != nil {
		return false, err
	}
	out, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"device_id": {DataType: aws.String("String"), StringValue: aws.String(device.ID)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("sqs send error for device %s: %w", device.ID, err)
	}
	c.logger.Debug().Str("device_id", device.ID).Str("msg_id", aws.ToString(out.MessageId)).Msg("Message sent")
	return true, nil
}
