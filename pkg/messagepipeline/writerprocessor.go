package messagepipeline

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// WriterProcessor is a MessageProcessor that writes every decoded payload to
// an io.Writer as one line of JSON, then Acks the original message. String
// payloads are written verbatim rather than as JSON strings.
type WriterProcessor[T any] struct {
	out       io.Writer
	logger    zerolog.Logger
	inputChan chan *types.DecodedMessage[T]
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewWriterProcessor creates a WriterProcessor with an input buffer of bufferSize.
func NewWriterProcessor[T any](out io.Writer, bufferSize int, logger zerolog.Logger) *WriterProcessor[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &WriterProcessor[T]{
		out:       out,
		logger:    logger.With().Str("component", "WriterProcessor").Logger(),
		inputChan: make(chan *types.DecodedMessage[T], bufferSize),
	}
}

// Input returns the channel decoded messages are sent on.
func (w *WriterProcessor[T]) Input() chan<- *types.DecodedMessage[T] {
	return w.inputChan
}

// Start launches the writing loop.
func (w *WriterProcessor[T]) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		enc := json.NewEncoder(w.out)
		for msg := range w.inputChan {
			if err := w.write(enc, msg.Payload); err != nil {
				w.logger.Error().Err(err).Str("msg_id", msg.OriginalMessage.ID).Msg("Failed to write payload, Nacking.")
				nack(msg.OriginalMessage)
				continue
			}
			ack(msg.OriginalMessage)
		}
	}()
}

func (w *WriterProcessor[T]) write(enc *json.Encoder, payload *T) error {
	if s, ok := any(payload).(*string); ok && s != nil {
		_, err := io.WriteString(w.out, *s+"\n")
		return err
	}
	return enc.Encode(payload)
}

// Stop closes the input and waits for queued payloads to be written.
func (w *WriterProcessor[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.inputChan)
		w.wg.Wait()
	})
}
