package loadgen_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/illmade-knight/go-queuemessage/helpers/loadgen"
	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSQSSender struct {
	mock.Mock
}

func (m *MockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.SendMessageOutput)
	return out, args.Error(1)
}

func TestSQSClient_Connect(t *testing.T) {
	assert.Error(t, loadgen.NewSQSClient(nil, "https://queue", zerolog.Nop()).Connect())
	assert.Error(t, loadgen.NewSQSClient(&MockSQSSender{}, "", zerolog.Nop()).Connect())
	assert.NoError(t, loadgen.NewSQSClient(&MockSQSSender{}, "https://queue", zerolog.Nop()).Connect())
}

func TestSQSClient_Publish(t *testing.T) {
	const queueURL = "https://sqs.eu-west-1.amazonaws.com/123/readings"
	device := &loadgen.Device{ID: "d-9", PayloadGenerator: loadgen.TextGenerator{Format: "%s:%d"}}

	t.Run("sends encoded body with device attribute", func(t *testing.T) {
		sender := &MockSQSSender{}
		sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
			text, err := queuemessage.AsString(queuemessage.Text(aws.ToString(in.MessageBody)))
			return err == nil &&
				aws.ToString(in.QueueUrl) == queueURL &&
				text != "" &&
				aws.ToString(in.MessageAttributes["device_id"].StringValue) == "d-9"
		})).Return(&sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil).Once()

		c := loadgen.NewSQSClient(sender, queueURL, zerolog.Nop())
		sent, err := c.Publish(context.Background(), device)
		require.NoError(t, err)
		assert.True(t, sent)
		sender.AssertExpectations(t)
	})

	t.Run("send error is returned", func(t *testing.T) {
		sender := &MockSQSSender{}
		sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

		c := loadgen.NewSQSClient(sender, queueURL, zerolog.Nop())
		sent, err := c.Publish(context.Background(), device)
		assert.False(t, sent)
		assert.ErrorContains(t, err, "throttled")
	})

	t.Run("cancelled context is not a failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sender := &MockSQSSender{}
		sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, context.Canceled).Once()

		c := loadgen.NewSQSClient(sender, queueURL, zerolog.Nop())
		sent, err := c.Publish(ctx, device)
		assert.False(t, sent)
		assert.NoError(t, err)
	})
}
