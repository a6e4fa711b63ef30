package messagepipeline

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// MQTTConsumerConfig holds configuration for the MQTT consumer.
type MQTTConsumerConfig struct {
	BrokerURL string // e.g., "tcp://localhost:1883" or "tls://broker:8883"
	Topic     string
	// ClientID names the broker session and is used verbatim. With a fixed ID
	// the session persists across restarts, so Nacked messages come back on
	// the next Start. When empty, ClientIDPrefix plus a random suffix is used
	// with a clean session and nothing survives a restart.
	ClientID       string
	ClientIDPrefix string
	Username       string
	Password       string
	QoS            byte

	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	ReconnectWaitMax time.Duration

	CACertFile         string
	ClientCertFile     string
	ClientKeyFile      string
	InsecureSkipVerify bool

	BufferSize int
}

// LoadMQTTConsumerConfigFromEnv loads MQTT consumer configuration from environment variables.
func LoadMQTTConsumerConfigFromEnv() (*MQTTConsumerConfig, error) {
	cfg := &MQTTConsumerConfig{
		BrokerURL:        os.Getenv("MQTT_BROKER_URL"),
		Topic:            os.Getenv("MQTT_TOPIC"),
		ClientID:         os.Getenv("MQTT_CLIENT_ID"),
		ClientIDPrefix:   "queuemessage-",
		Username:         os.Getenv("MQTT_USERNAME"),
		Password:         os.Getenv("MQTT_PASSWORD"),
		CACertFile:       os.Getenv("MQTT_CA_CERT_FILE"),
		QoS:              1,
		KeepAlive:        10 * time.Second,
		ConnectTimeout:   5 * time.Second,
		ReconnectWaitMax: time.Minute,
		BufferSize:       100,
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT_BROKER_URL environment variable not set for MQTT consumer")
	}
	if cfg.Topic == "" {
		return nil, errors.New("MQTT_TOPIC environment variable not set for MQTT consumer")
	}
	return cfg, nil
}

// MQTTConsumer implements MessageConsumer on an MQTT topic subscription.
// Automatic acknowledgement is disabled, so a QoS 1 message that is Nacked
// (left unacknowledged) is redelivered by the broker when the session
// resumes. Resuming needs a fixed ClientID.
type MQTTConsumer struct {
	cfg        MQTTConsumerConfig
	client     mqtt.Client
	logger     zerolog.Logger
	outputChan chan types.ConsumedMessage
	doneChan   chan struct{}
	stopChan   chan struct{}

	mu       sync.RWMutex
	stopping bool
	stopOnce sync.Once
}

// NewMQTTConsumer creates an MQTT consumer. The connection is made by Start.
func NewMQTTConsumer(cfg *MQTTConsumerConfig, logger zerolog.Logger) (*MQTTConsumer, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker URL is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	c := *cfg
	if c.KeepAlive == 0 {
		c.KeepAlive = 10 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return &MQTTConsumer{
		cfg:        c,
		logger:     logger.With().Str("component", "MQTTConsumer").Str("topic", c.Topic).Logger(),
		outputChan: make(chan types.ConsumedMessage, max(c.BufferSize, 1)),
		doneChan:   make(chan struct{}),
		stopChan:   make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages.
func (c *MQTTConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

// Done returns a channel that is closed once the consumer has stopped.
func (c *MQTTConsumer) Done() <-chan struct{} { return c.doneChan }

// Start connects to the broker; the subscription is (re)made on every connect.
// The consumer also stops when ctx is cancelled.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.clientID())
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	if c.cfg.ReconnectWaitMax > 0 {
		opts.SetMaxReconnectInterval(c.cfg.ReconnectWaitMax)
	}
	opts.SetCleanSession(c.cfg.ClientID == "")
	opts.SetOrderMatters(false)
	opts.SetAutoAckDisabled(true)

	scheme := strings.ToLower(c.cfg.BrokerURL)
	if strings.HasPrefix(scheme, "tls://") || strings.HasPrefix(scheme, "ssl://") {
		tlsConfig, err := newTLSConfig(&c.cfg)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		c.logger.Info().Str("broker", broker.String()).Msg("Attempting to connect to MQTT broker")
		return tlsCfg
	})
	opts.SetOnConnectHandler(c.onConnect)
	// A resumed session can redeliver before onConnect has subscribed, when
	// no route for the topic exists yet.
	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("MQTT connection lost. Auto-reconnect will be attempted.")
	})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", c.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect error: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.doneChan:
		}
	}()
	return nil
}

func (c *MQTTConsumer) clientID() string {
	if c.cfg.ClientID != "" {
		return c.cfg.ClientID
	}
	c.logger.Warn().Msg("No MQTT client ID configured; unacknowledged messages will not survive a restart.")
	return c.cfg.ClientIDPrefix + uuid.NewString()[:8]
}

func (c *MQTTConsumer) onConnect(client mqtt.Client) {
	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Connected to MQTT broker, subscribing.")
	token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.handleMessage)
	if token.Wait() && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to subscribe to MQTT topic")
	}
}

func (c *MQTTConsumer) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	consumed := types.ConsumedMessage{
		ID:          fmt.Sprintf("%s/%d", msg.Topic(), msg.MessageID()),
		Payload:     payload,
		PublishTime: time.Now().UTC(),
		Attributes:  map[string]string{"topic": msg.Topic()},
		Ack:         msg.Ack,
		Nack: func() {
			c.logger.Debug().Uint16("mqtt_msg_id", msg.MessageID()).Msg("Message left unacknowledged for redelivery.")
		},
	}
	if msg.Duplicate() {
		consumed.DequeueCount = 2
	}

	// The read lock keeps Stop from closing the channel mid-send.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopping {
		return
	}
	select {
	case c.outputChan <- consumed:
	case <-c.stopChan:
	}
}

// Stop disconnects and closes the message channel. The subscription is left
// in the broker session, so with a fixed ClientID messages published while
// stopped are delivered after the next Start.
func (c *MQTTConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MQTT consumer...")
		// Release any handler blocked on a full channel; undelivered messages
		// stay unacknowledged and return with the next session.
		close(c.stopChan)
		if c.client != nil && c.client.IsConnected() {
			c.client.Disconnect(500)
		}

		c.mu.Lock()
		c.stopping = true
		close(c.outputChan)
		c.mu.Unlock()
		close(c.doneChan)
		c.logger.Info().Msg("MQTT consumer stopped.")
	})
	return nil
}

// newTLSConfig creates a TLS configuration for the MQTT client.
func newTLSConfig(cfg *MQTTConsumerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate from %s to pool", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
