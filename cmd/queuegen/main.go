// queuegen publishes simulated device messages in queue encoding to the
// source a queuepeek configuration reads from. It is the producer side used
// for load and dead-letter testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/go-queuemessage/helpers/loadgen"
	"github.com/illmade-knight/go-queuemessage/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	configPath := flag.String("c", "", "Path to the queuepeek YAML config file naming the target queue.")
	numDevices := flag.Int("devices", 5, "Number of simulated devices.")
	rate := flag.Float64("rate", 1, "Messages per second per device.")
	duration := flag.Duration("duration", 30*time.Second, "How long to publish for.")
	poisonEvery := flag.Int("poison-every", 0, "Make every Nth message undecodable. 0 disables.")
	text := flag.Bool("text", false, "Send plain text bodies instead of JSON readings.")
	topicID := flag.String("topic", "", "Pub/Sub topic; defaults to the topic of the configured subscription.")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, closeClient, err := newClient(ctx, cfg, *topicID, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create load client")
	}
	defer closeClient()

	var generator loadgen.PayloadGenerator = loadgen.ReadingGenerator{Min: 15, Max: 30}
	if *text {
		generator = loadgen.TextGenerator{Format: "%s message %d"}
	}
	devices := make([]*loadgen.Device, *numDevices)
	for i := range devices {
		devices[i] = &loadgen.Device{
			ID:               fmt.Sprintf("device-%03d", i),
			MessageRate:      *rate,
			PayloadGenerator: generator,
			PoisonEvery:      *poisonEvery,
		}
	}

	summary, err := loadgen.NewLoadGenerator(client, devices, log.Logger).Run(ctx, *duration)
	if err != nil {
		log.Fatal().Err(err).Msg("Load generation failed")
	}
	log.Info().Int("published", summary.Published).Int("failed", summary.Failed).Msg("queuegen finished")
}

// newClient builds the load client for cfg.Source.
func newClient(ctx context.Context, cfg *config.Config, topicID string, logger zerolog.Logger) (loadgen.Client, func(), error) {
	noop := func() {}
	s := cfg.Source

	switch s.Kind {
	case config.SourcePubsub:
		client, err := pubsub.NewClient(ctx, s.Pubsub.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		if topicID == "" {
			subCfg, err := client.Subscription(s.Pubsub.SubscriptionID).Config(ctx)
			if err != nil {
				client.Close()
				return nil, noop, fmt.Errorf("failed to read subscription %s: %w", s.Pubsub.SubscriptionID, err)
			}
			topicID = subCfg.Topic.ID()
		}
		return loadgen.NewPubsubClient(client, topicID, logger), func() { client.Close() }, nil

	case config.SourceRedis:
		opts := &redis.Options{Addr: s.Redis.Addr, Password: s.Redis.Password, DB: s.Redis.DB}
		return loadgen.NewRedisClient(opts, s.Redis.Queue, logger), noop, nil

	case config.SourceMQTT:
		return loadgen.NewMqttClient(s.MQTT.BrokerURL, s.MQTT.Topic, byte(s.MQTT.QoS), logger), noop, nil

	case config.SourceSQS:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if s.SQS.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(s.SQS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if s.SQS.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.SQS.Endpoint)
			}
		})
		return loadgen.NewSQSClient(client, s.SQS.QueueURL, logger), noop, nil

	case config.SourcePush:
		return nil, noop, errors.New("push sources are fed through their Pub/Sub topic; use a pubsub config")
	}
	return nil, noop, fmt.Errorf("unknown source kind %q", s.Kind)
}
