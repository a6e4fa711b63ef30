package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides. Keys follow the field
// path, e.g. QUEUEPEEK_SOURCE_KIND or QUEUEPEEK_DEAD_LETTER_REDIS_MAX_LEN.
const EnvPrefix = "queuepeek"

// Source kinds.
const (
	SourcePubsub = "pubsub"
	SourceRedis  = "redis"
	SourceMQTT   = "mqtt"
	SourceSQS    = "sqs"
	SourcePush   = "push"
)

// Dead-letter sink kinds.
const (
	SinkNone      = ""
	SinkPubsub    = "pubsub"
	SinkRedis     = "redis"
	SinkGCS       = "gcs"
	SinkFirestore = "firestore"
)

// Config is the queuepeek configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" split_words:"true"`
	Workers    int              `yaml:"workers" split_words:"true"`
	Source     SourceConfig     `yaml:"source" split_words:"true"`
	Decode     DecodeConfig     `yaml:"decode" split_words:"true"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter" split_words:"true"`
}

// SourceConfig selects where messages are read from.
type SourceConfig struct {
	Kind   string       `yaml:"kind" split_words:"true"`
	Pubsub PubsubSource `yaml:"pubsub" split_words:"true"`
	Redis  RedisSource  `yaml:"redis" split_words:"true"`
	MQTT   MQTTSource   `yaml:"mqtt" split_words:"true"`
	SQS    SQSSource    `yaml:"sqs" split_words:"true"`
	Push   PushSource   `yaml:"push" split_words:"true"`
}

type PubsubSource struct {
	ProjectID              string `yaml:"project_id" split_words:"true"`
	SubscriptionID         string `yaml:"subscription_id" split_words:"true"`
	CredentialsFile        string `yaml:"credentials_file" split_words:"true"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages" split_words:"true"`
}

type RedisSource struct {
	Addr         string        `yaml:"addr" split_words:"true"`
	Password     string        `yaml:"password" split_words:"true"`
	DB           int           `yaml:"db" split_words:"true"`
	Queue        string        `yaml:"queue" split_words:"true"`
	BlockTimeout time.Duration `yaml:"block_timeout" split_words:"true"`
}

type MQTTSource struct {
	BrokerURL  string `yaml:"broker_url" split_words:"true"`
	Topic      string `yaml:"topic" split_words:"true"`
	ClientID   string `yaml:"client_id" split_words:"true"`
	Username   string `yaml:"username" split_words:"true"`
	Password   string `yaml:"password" split_words:"true"`
	QoS        int    `yaml:"qos" envconfig:"QOS"`
	CACertFile string `yaml:"ca_cert_file" split_words:"true"`
}

type SQSSource struct {
	QueueURL        string `yaml:"queue_url" split_words:"true"`
	Region          string `yaml:"region" split_words:"true"`
	Endpoint        string `yaml:"endpoint" split_words:"true"`
	WaitTimeSeconds int32  `yaml:"wait_time_seconds" split_words:"true"`
}

// PushSource serves a Pub/Sub push endpoint instead of pulling.
type PushSource struct {
	Addr string `yaml:"addr" split_words:"true"`
	Path string `yaml:"path" split_words:"true"`
}

// DecodeConfig controls how message bodies are interpreted.
type DecodeConfig struct {
	// JSON decodes bodies as JSON objects rather than printing the text.
	JSON          bool   `yaml:"json" split_words:"true"`
	UnknownFields string `yaml:"unknown_fields" split_words:"true"`
	SkipEmpty     bool   `yaml:"skip_empty" split_words:"true"`
}

// DeadLetterConfig selects where malformed messages go. An empty Kind
// disables dead-lettering and malformed messages are Nacked.
type DeadLetterConfig struct {
	Kind      string              `yaml:"kind" split_words:"true"`
	Pubsub    PubsubDeadLetter    `yaml:"pubsub" split_words:"true"`
	Redis     RedisDeadLetter     `yaml:"redis" split_words:"true"`
	GCS       GCSDeadLetter       `yaml:"gcs" split_words:"true"`
	Firestore FirestoreDeadLetter `yaml:"firestore" split_words:"true"`
}

type PubsubDeadLetter struct {
	ProjectID string `yaml:"project_id" split_words:"true"`
	TopicID   string `yaml:"topic_id" split_words:"true"`
}

type RedisDeadLetter struct {
	// Addr defaults to the Redis source address.
	Addr   string `yaml:"addr" split_words:"true"`
	List   string `yaml:"list" split_words:"true"`
	MaxLen int64  `yaml:"max_len" split_words:"true"`
}

type GCSDeadLetter struct {
	Bucket       string `yaml:"bucket" split_words:"true"`
	ObjectPrefix string `yaml:"object_prefix" split_words:"true"`
}

type FirestoreDeadLetter struct {
	// ProjectID defaults to the Pub/Sub source project.
	ProjectID  string `yaml:"project_id" split_words:"true"`
	Collection string `yaml:"collection" split_words:"true"`
}

// Default returns a Config with every optional setting filled in.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Workers:  5,
		Source: SourceConfig{
			Pubsub: PubsubSource{MaxOutstandingMessages: 100},
			Redis:  RedisSource{BlockTimeout: 2 * time.Second},
			MQTT:   MQTTSource{QoS: 1},
			SQS:    SQSSource{WaitTimeSeconds: 20},
			Push:   PushSource{Addr: ":8080", Path: "/push"},
		},
		Decode: DecodeConfig{UnknownFields: string(queuemessage.UnknownFieldsIgnore)},
	}
}

// Load reads the YAML file at path over the defaults, applies QUEUEPEEK_*
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that makes the configuration unusable.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("validation error: log_level: %w", err)
	}
	if c.Workers <= 0 {
		return errors.New("validation error: workers must be positive")
	}
	if _, err := c.Decode.Mode(); err != nil {
		return fmt.Errorf("validation error: decode.unknown_fields: %w", err)
	}

	s := c.Source
	switch s.Kind {
	case SourcePubsub:
		if s.Pubsub.ProjectID == "" || s.Pubsub.SubscriptionID == "" {
			return errors.New("validation error: source.pubsub requires project_id and subscription_id")
		}
	case SourceRedis:
		if s.Redis.Addr == "" || s.Redis.Queue == "" {
			return errors.New("validation error: source.redis requires addr and queue")
		}
	case SourceMQTT:
		if s.MQTT.BrokerURL == "" || s.MQTT.Topic == "" {
			return errors.New("validation error: source.mqtt requires broker_url and topic")
		}
		if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
			return fmt.Errorf("validation error: source.mqtt.qos %d is out of range", s.MQTT.QoS)
		}
	case SourceSQS:
		if s.SQS.QueueURL == "" {
			return errors.New("validation error: source.sqs requires queue_url")
		}
	case SourcePush:
		if s.Push.Addr == "" || s.Push.Path == "" {
			return errors.New("validation error: source.push requires addr and path")
		}
		if !c.Decode.JSON {
			return errors.New("validation error: source.push requires decode.json")
		}
	case "":
		return errors.New("validation error: source.kind is required")
	default:
		return fmt.Errorf("validation error: unknown source.kind %q", s.Kind)
	}

	d := c.DeadLetter
	switch d.Kind {
	case SinkNone:
	case SinkPubsub:
		if d.Pubsub.TopicID == "" {
			return errors.New("validation error: dead_letter.pubsub requires topic_id")
		}
		if d.Pubsub.ProjectID == "" && s.Pubsub.ProjectID == "" {
			return errors.New("validation error: dead_letter.pubsub requires project_id")
		}
	case SinkRedis:
		if d.Redis.List == "" {
			return errors.New("validation error: dead_letter.redis requires list")
		}
		if d.Redis.Addr == "" && s.Redis.Addr == "" {
			return errors.New("validation error: dead_letter.redis requires addr")
		}
	case SinkGCS:
		if d.GCS.Bucket == "" {
			return errors.New("validation error: dead_letter.gcs requires bucket")
		}
	case SinkFirestore:
		if d.Firestore.Collection == "" {
			return errors.New("validation error: dead_letter.firestore requires collection")
		}
		if d.Firestore.ProjectID == "" && s.Pubsub.ProjectID == "" {
			return errors.New("validation error: dead_letter.firestore requires project_id")
		}
	default:
		return fmt.Errorf("validation error: unknown dead_letter.kind %q", d.Kind)
	}
	return nil
}

// Mode returns the parsed unknown-field handling.
func (d DecodeConfig) Mode() (queuemessage.UnknownFields, error) {
	return queuemessage.ParseUnknownFields(d.UnknownFields)
}

// DecodeOptions returns the queuemessage options for this configuration.
func (d DecodeConfig) DecodeOptions() []queuemessage.Option {
	mode, err := d.Mode()
	if err != nil {
		mode = queuemessage.UnknownFieldsIgnore
	}
	return []queuemessage.Option{queuemessage.WithUnknownFields(mode)}
}
