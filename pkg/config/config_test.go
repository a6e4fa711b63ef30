package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestYAMLFile(t *testing.T, content string) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "queuepeek.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0600), "Failed to write temporary YAML file")
	return filePath
}

func TestLoad(t *testing.T) {
	testCases := []struct {
		name          string
		yamlContent   string
		env           map[string]string
		errorContains string
		checkConfig   func(t *testing.T, cfg *Config)
	}{
		{
			name: "pubsub source with defaults",
			yamlContent: `
source:
  kind: pubsub
  pubsub:
    project_id: demo
    subscription_id: readings-sub
`,
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, SourcePubsub, cfg.Source.Kind)
				assert.Equal(t, "demo", cfg.Source.Pubsub.ProjectID)
				assert.Equal(t, 100, cfg.Source.Pubsub.MaxOutstandingMessages)
				assert.Equal(t, 5, cfg.Workers)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, SinkNone, cfg.DeadLetter.Kind)
			},
		},
		{
			name: "redis source with gcs dead letters",
			yamlContent: `
log_level: debug
workers: 2
source:
  kind: redis
  redis:
    addr: localhost:6379
    queue: readings
    block_timeout: 500ms
decode:
  json: true
  unknown_fields: error
dead_letter:
  kind: gcs
  gcs:
    bucket: dl-bucket
    object_prefix: queuepeek
`,
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 500*time.Millisecond, cfg.Source.Redis.BlockTimeout)
				assert.True(t, cfg.Decode.JSON)
				mode, err := cfg.Decode.Mode()
				require.NoError(t, err)
				assert.Equal(t, queuemessage.UnknownFieldsError, mode)
				assert.Equal(t, "dl-bucket", cfg.DeadLetter.GCS.Bucket)
			},
		},
		{
			name: "environment overrides file",
			yamlContent: `
source:
  kind: mqtt
  mqtt:
    broker_url: tcp://localhost:1883
    topic: devices/+/up
`,
			env: map[string]string{
				"QUEUEPEEK_WORKERS":                   "9",
				"QUEUEPEEK_SOURCE_MQTT_TOPIC":         "other/topic",
				"QUEUEPEEK_SOURCE_MQTT_CLIENT_ID":     "peek-1",
				"QUEUEPEEK_DEAD_LETTER_KIND":          "redis",
				"QUEUEPEEK_DEAD_LETTER_REDIS_ADDR":    "redis:6379",
				"QUEUEPEEK_DEAD_LETTER_REDIS_LIST":    "dead",
				"QUEUEPEEK_DEAD_LETTER_REDIS_MAX_LEN": "1000",
				"QUEUEPEEK_DECODE_UNKNOWN_FIELDS":     "ignore",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9, cfg.Workers)
				assert.Equal(t, "other/topic", cfg.Source.MQTT.Topic)
				assert.Equal(t, "tcp://localhost:1883", cfg.Source.MQTT.BrokerURL)
				assert.Equal(t, 1, cfg.Source.MQTT.QoS)
				assert.Equal(t, "peek-1", cfg.Source.MQTT.ClientID)
				assert.Equal(t, SinkRedis, cfg.DeadLetter.Kind)
				assert.Equal(t, int64(1000), cfg.DeadLetter.Redis.MaxLen)
			},
		},
		{
			name: "push source needs no file settings",
			env: map[string]string{
				"QUEUEPEEK_SOURCE_KIND":      "push",
				"QUEUEPEEK_SOURCE_PUSH_ADDR": ":9090",
				"QUEUEPEEK_DECODE_JSON":      "true",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9090", cfg.Source.Push.Addr)
				assert.Equal(t, "/push", cfg.Source.Push.Path)
			},
		},
		{
			name:          "push source without json decoding",
			env:           map[string]string{"QUEUEPEEK_SOURCE_KIND": "push"},
			errorContains: "source.push requires decode.json",
		},
		{
			name:          "invalid YAML",
			yamlContent:   "source: [unclosed",
			errorContains: "failed to unmarshal YAML",
		},
		{
			name:          "missing source kind",
			yamlContent:   "workers: 1\n",
			errorContains: "source.kind is required",
		},
		{
			name:          "unknown source kind",
			yamlContent:   "source:\n  kind: kafka\n",
			errorContains: `unknown source.kind "kafka"`,
		},
		{
			name:          "incomplete sqs source",
			yamlContent:   "source:\n  kind: sqs\n",
			errorContains: "source.sqs requires queue_url",
		},
		{
			name: "bad unknown_fields mode",
			yamlContent: `
source:
  kind: sqs
  sqs:
    queue_url: https://sqs.example/q
decode:
  unknown_fields: sometimes
`,
			errorContains: "decode.unknown_fields",
		},
		{
			name: "bad log level",
			yamlContent: `
log_level: loud
source:
  kind: sqs
  sqs:
    queue_url: https://sqs.example/q
`,
			errorContains: "log_level",
		},
		{
			name: "pubsub dead letter borrows source project",
			yamlContent: `
source:
  kind: pubsub
  pubsub:
    project_id: demo
    subscription_id: s
dead_letter:
  kind: pubsub
  pubsub:
    topic_id: dl
`,
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Empty(t, cfg.DeadLetter.Pubsub.ProjectID)
				assert.Equal(t, "dl", cfg.DeadLetter.Pubsub.TopicID)
			},
		},
		{
			name: "firestore dead letter from environment",
			yamlContent: `
source:
  kind: pubsub
  pubsub:
    project_id: demo
    subscription_id: s
`,
			env: map[string]string{
				"QUEUEPEEK_DEAD_LETTER_KIND":                 "firestore",
				"QUEUEPEEK_DEAD_LETTER_FIRESTORE_COLLECTION": "dead-letters",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, SinkFirestore, cfg.DeadLetter.Kind)
				assert.Equal(t, "dead-letters", cfg.DeadLetter.Firestore.Collection)
				assert.Empty(t, cfg.DeadLetter.Firestore.ProjectID)
			},
		},
		{
			name: "firestore dead letter needs a project",
			yamlContent: `
source:
  kind: redis
  redis:
    addr: localhost:6379
    queue: q
dead_letter:
  kind: firestore
  firestore:
    collection: dead-letters
`,
			errorContains: "dead_letter.firestore requires project_id",
		},
		{
			name: "unknown dead letter kind",
			yamlContent: `
source:
  kind: redis
  redis:
    addr: localhost:6379
    queue: q
dead_letter:
  kind: s3
`,
			errorContains: `unknown dead_letter.kind "s3"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			var path string
			if tc.yamlContent != "" {
				path = createTestYAMLFile(t, tc.yamlContent)
			}

			cfg, err := Load(path)

			if tc.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorContains)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tc.checkConfig != nil {
				tc.checkConfig(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestDecodeConfig_DecodeOptions(t *testing.T) {
	type target struct {
		A int `json:"a"`
	}
	body, err := queuemessage.Encode(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	_, err = queuemessage.As[target](queuemessage.Text(body), DecodeConfig{UnknownFields: "error"}.DecodeOptions()...)
	assert.Error(t, err)

	got, err := queuemessage.As[target](queuemessage.Text(body), DecodeConfig{}.DecodeOptions()...)
	require.NoError(t, err)
	assert.Equal(t, 1, got.A)
}
