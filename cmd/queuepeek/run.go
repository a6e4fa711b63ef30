package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/go-queuemessage/pkg/config"
	"github.com/illmade-knight/go-queuemessage/pkg/deadletter"
	"github.com/illmade-knight/go-queuemessage/pkg/messagepipeline"
	"github.com/illmade-knight/go-queuemessage/pkg/pushhandler"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// run wires the configured source and dead-letter sink and blocks until ctx
// is cancelled or the source stops on its own.
func run(ctx context.Context, cfg *config.Config, out io.Writer, logger zerolog.Logger) error {
	sink, closeSink, err := newDeadLetterer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	if cfg.Source.Kind == config.SourcePush {
		router, err := newPushRouter(cfg, sink, out, logger)
		if err != nil {
			return err
		}
		return servePush(ctx, cfg.Source.Push.Addr, router, logger)
	}

	consumer, closeConsumer, err := newConsumer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeConsumer()

	if cfg.Decode.JSON {
		transformer := messagepipeline.NewDecodingTransformer[map[string]any](cfg.Decode.DecodeOptions()...)
		return runPipeline(ctx, cfg, consumer, transformer, sink, out, logger)
	}
	return runPipeline[string](ctx, cfg, consumer, messagepipeline.StringTransformer, sink, out, logger)
}

// runPipeline drives one ProcessingService that writes a line per message to out.
func runPipeline[T any](
	ctx context.Context,
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	transformer messagepipeline.MessageTransformer[T],
	sink messagepipeline.DeadLetterer,
	out io.Writer,
	logger zerolog.Logger,
) error {
	if cfg.Decode.SkipEmpty {
		transformer = messagepipeline.SkipEmpty(transformer)
	}
	processor := messagepipeline.NewWriterProcessor[T](out, cfg.Workers*2, logger)
	service, err := messagepipeline.NewProcessingService(cfg.Workers, consumer, processor, transformer, logger)
	if err != nil {
		return fmt.Errorf("failed to create processing service: %w", err)
	}
	if sink != nil {
		service.SetDeadLetterer(sink)
	}

	if err := service.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown requested")
	case <-consumer.Done():
		logger.Warn().Msg("Message source stopped")
	}
	service.Stop()
	return nil
}

// newConsumer builds the pull consumer for cfg.Source. The returned func
// releases resources that outlive Stop.
func newConsumer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (messagepipeline.MessageConsumer, func(), error) {
	noop := func() {}
	buffer := cfg.Workers * 2
	s := cfg.Source

	switch s.Kind {
	case config.SourcePubsub:
		c, err := messagepipeline.NewGooglePubsubConsumer(ctx, &messagepipeline.GooglePubsubConsumerConfig{
			ProjectID:              s.Pubsub.ProjectID,
			SubscriptionID:         s.Pubsub.SubscriptionID,
			CredentialsFile:        s.Pubsub.CredentialsFile,
			MaxOutstandingMessages: s.Pubsub.MaxOutstandingMessages,
			NumGoroutines:          cfg.Workers,
		}, nil, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil

	case config.SourceRedis:
		c, err := messagepipeline.NewRedisQueueConsumer(ctx, &messagepipeline.RedisQueueConsumerConfig{
			Addr:         s.Redis.Addr,
			Password:     s.Redis.Password,
			DB:           s.Redis.DB,
			Queue:        s.Redis.Queue,
			BlockTimeout: s.Redis.BlockTimeout,
			BufferSize:   buffer,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, func() { _ = c.Close() }, nil

	case config.SourceMQTT:
		c, err := messagepipeline.NewMQTTConsumer(&messagepipeline.MQTTConsumerConfig{
			BrokerURL:        s.MQTT.BrokerURL,
			Topic:            s.MQTT.Topic,
			ClientID:         s.MQTT.ClientID,
			ClientIDPrefix:   "queuepeek-",
			Username:         s.MQTT.Username,
			Password:         s.MQTT.Password,
			QoS:              byte(s.MQTT.QoS),
			CACertFile:       s.MQTT.CACertFile,
			ReconnectWaitMax: time.Minute,
			BufferSize:       buffer,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil

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
		c, err := messagepipeline.NewSQSConsumer(client, &messagepipeline.SQSConsumerConfig{
			QueueURL:        s.SQS.QueueURL,
			WaitTimeSeconds: s.SQS.WaitTimeSeconds,
			BufferSize:      buffer,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil
	}
	return nil, noop, fmt.Errorf("source %q has no pull consumer", s.Kind)
}

// newDeadLetterer builds the configured sink, or returns nil when dead-lettering is off.
func newDeadLetterer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (messagepipeline.DeadLetterer, func(), error) {
	noop := func() {}
	d := cfg.DeadLetter

	switch d.Kind {
	case config.SinkPubsub:
		projectID := d.Pubsub.ProjectID
		if projectID == "" {
			projectID = cfg.Source.Pubsub.ProjectID
		}
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create dead-letter pubsub client: %w", err)
		}
		sink, err := deadletter.NewPubsubSink(ctx, client, d.Pubsub.TopicID, logger)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return sink, func() {
			sink.Stop()
			client.Close()
		}, nil

	case config.SinkRedis:
		addr := d.Redis.Addr
		password := ""
		if addr == "" {
			addr = cfg.Source.Redis.Addr
			password = cfg.Source.Redis.Password
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, noop, fmt.Errorf("failed to connect to dead-letter redis: %w", err)
		}
		sink, err := deadletter.NewRedisSink(rdb, deadletter.RedisSinkConfig{List: d.Redis.List, MaxLen: d.Redis.MaxLen}, logger)
		if err != nil {
			rdb.Close()
			return nil, noop, err
		}
		return sink, func() { rdb.Close() }, nil

	case config.SinkGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create storage client: %w", err)
		}
		sink, err := deadletter.NewGCSSink(deadletter.NewGCSClientAdapter(client), deadletter.GCSSinkConfig{
			BucketName:   d.GCS.Bucket,
			ObjectPrefix: d.GCS.ObjectPrefix,
		}, logger)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return sink, func() { client.Close() }, nil

	case config.SinkFirestore:
		projectID := d.Firestore.ProjectID
		if projectID == "" {
			projectID = cfg.Source.Pubsub.ProjectID
		}
		client, err := firestore.NewClient(ctx, projectID)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create firestore client: %w", err)
		}
		sink, err := deadletter.NewFirestoreSink(client, deadletter.FirestoreSinkConfig{Collection: d.Firestore.Collection}, logger)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return sink, func() { client.Close() }, nil
	}
	return nil, noop, nil
}

// newPushRouter serves decoded push deliveries as JSON lines on out.
func newPushRouter(cfg *config.Config, sink messagepipeline.DeadLetterer, out io.Writer, logger zerolog.Logger) (*gin.Engine, error) {
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(_ context.Context, msg types.ConsumedMessage, payload *map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("failed to write message %s: %w", msg.ID, err)
		}
		return nil
	}

	opts := []pushhandler.Option{pushhandler.WithDecodeOptions(cfg.Decode.DecodeOptions()...)}
	if sink != nil {
		opts = append(opts, pushhandler.WithDeadLetterer(sink))
	}
	handler, err := pushhandler.New[map[string]any](write, logger, opts...)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	handler.Register(router, cfg.Source.Push.Path)
	return router, nil
}

// servePush runs the push endpoint until ctx is cancelled.
func servePush(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Push endpoint listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("push server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
