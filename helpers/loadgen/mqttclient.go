package loadgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MqttClient publishes queue bodies to MQTT. A "+" in the topic pattern is
// replaced with the device ID.
type MqttClient struct {
	client       mqtt.Client
	brokerURL    string
	topicPattern string
	qos          byte
	logger       zerolog.Logger
}

// NewMqttClient creates an MqttClient. The connection is made by Connect.
func NewMqttClient(brokerURL, topicPattern string, qos byte, logger zerolog.Logger) *MqttClient {
	return &MqttClient{
		brokerURL:    brokerURL,
		topicPattern: topicPattern,
		qos:          qos,
		logger:       logger.With().Str("component", "MqttLoadClient").Logger(),
	}
}

// Connect establishes a connection to the MQTT broker.
func (c *MqttClient) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(fmt.Sprintf("queuegen-%s", uuid.NewString())).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Error().Err(err).Msg("MQTT connection lost")
		})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect to %s timed out", c.brokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect error: %w", err)
	}
	c.logger.Info().Str("broker", c.brokerURL).Msg("Connected to MQTT broker")
	return nil
}

// Disconnect closes the connection to the MQTT broker.
func (c *MqttClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// Publish sends the device's next body to its topic.
func (c *MqttClient) Publish(ctx context.Context, device *Device) (bool, error) {
	body, err := device.NextBody()
	if err != nil {
		return false, err
	}
	topic := strings.Replace(c.topicPattern, "+", device.ID, 1)

	token := c.client.Publish(topic, c.qos, false, []byte(body))
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return false, fmt.Errorf("mqtt publish error for device %s: %w", device.ID, err)
		}
		return true, nil
	case <-ctx.Done():
		return false, nil
	}
}
