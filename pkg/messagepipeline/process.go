package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains a generic service for decoding messages from any
// MessageConsumer and handing them off to any MessageProcessor.
// ====================================================================================

const deadLetterTimeout = 10 * time.Second

// ProcessingService orchestrates the pipeline of consuming, decoding, and processing messages.
type ProcessingService[T any] struct {
	numWorkers   int
	consumer     MessageConsumer
	processor    MessageProcessor[T]
	transformer  MessageTransformer[T]
	deadLetterer DeadLetterer
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewProcessingService creates a new, generic ProcessingService.
// It requires a consumer to get messages, a transformer to give them structure, and a
// processor to handle the structured data.
func NewProcessingService[T any](
	numWorkers int,
	consumer MessageConsumer,
	processor MessageProcessor[T],
	transformer MessageTransformer[T],
	logger zerolog.Logger,
) (*ProcessingService[T], error) {
	if consumer == nil {
		return nil, errors.New("message consumer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("message processor cannot be nil")
	}
	if transformer == nil {
		return nil, errors.New("message transformer cannot be nil")
	}
	if numWorkers <= 0 {
		numWorkers = 5
	}

	return &ProcessingService[T]{
		numWorkers:  numWorkers,
		consumer:    consumer,
		processor:   processor,
		transformer: transformer,
		logger:      logger.With().Str("service", "ProcessingService").Logger(),
	}, nil
}

// SetDeadLetterer routes messages that fail to decode to d instead of Nacking
// them. It must be called before Start.
func (s *ProcessingService[T]) SetDeadLetterer(d DeadLetterer) {
	s.deadLetterer = d
}

// Start begins the service operation. It starts the processor and the consumer,
// then spins up a pool of workers to process messages. Cancelling ctx has the
// same effect on the workers as calling Stop, but Stop must still be called to
// wait for them and flush the processor.
func (s *ProcessingService[T]) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting ProcessingService...")
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)

	// Start the processor first, so it's ready to receive items.
	s.processor.Start()

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		s.processor.Stop()
		s.shutdownFunc()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info().Msg("ProcessingService started successfully.")
	return nil
}

// worker is the main loop for each concurrent worker.
func (s *ProcessingService[T]) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")

	for {
		select {
		case <-s.shutdownCtx.Done():
			s.logger.Info().Int("worker_id", workerID).Msg("Processing worker shutting down.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.processConsumedMessage(msg, workerID)
		}
	}
}

// processConsumedMessage contains the core logic for each worker.
func (s *ProcessingService[T]) processConsumedMessage(msg types.ConsumedMessage, workerID int) {
	s.logger.Debug().Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Decoding message")

	payload, skip, err := s.transformer(msg)
	if err != nil {
		s.handleTransformError(msg, err)
		return
	}

	if skip {
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer signaled to skip message, Acking.")
		ack(msg)
		return
	}

	decoded := &types.DecodedMessage[T]{
		OriginalMessage: msg,
		Payload:         payload,
	}

	select {
	case s.processor.Input() <- decoded:
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Payload sent to processor.")
	case <-s.shutdownCtx.Done():
		s.logger.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking message.")
		nack(msg)
	}
}

// handleTransformError decides the fate of a message the transformer rejected.
// A malformed body will fail again on every redelivery, so when a dead-letter
// sink is configured it is parked there and Acked. Anything else is Nacked.
func (s *ProcessingService[T]) handleTransformError(msg types.ConsumedMessage, err error) {
	if !queuemessage.IsMalformed(err) || s.deadLetterer == nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to decode message, Nacking.")
		nack(msg)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
	defer cancel()

	if dlErr := s.deadLetterer.DeadLetter(ctx, msg, err); dlErr != nil {
		s.logger.Error().Err(dlErr).AnErr("decode_error", err).Str("msg_id", msg.ID).
			Msg("Failed to dead-letter malformed message, Nacking.")
		nack(msg)
		return
	}
	s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Malformed message dead-lettered, Acking.")
	ack(msg)
}

// Stop gracefully shuts down the entire service in the correct order.
func (s *ProcessingService[T]) Stop() {
	s.logger.Info().Msg("Stopping ProcessingService...")
	if s.shutdownFunc == nil {
		return
	}

	// 1. Signal all workers and the consumer to begin shutting down.
	s.shutdownFunc()
	if err := s.consumer.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Message consumer reported an error while stopping.")
	}

	// 2. Wait for the consumer to fully stop. This ensures no new messages are processed.
	s.logger.Info().Msg("Waiting for message consumer to stop...")
	<-s.consumer.Done()
	s.logger.Info().Msg("Message consumer stopped.")

	// 3. Wait for all processing workers to finish their current tasks.
	s.logger.Info().Msg("Waiting for processing workers to complete...")
	s.wg.Wait()
	s.logger.Info().Msg("All processing workers completed.")

	// 4. Stop the processor. This will flush any remaining buffered items.
	s.processor.Stop()

	s.logger.Info().Msg("ProcessingService stopped gracefully.")
}

func ack(msg types.ConsumedMessage) {
	if msg.Ack != nil {
		msg.Ack()
	}
}

func nack(msg types.ConsumedMessage) {
	if msg.Nack != nil {
		msg.Nack()
	}
}
