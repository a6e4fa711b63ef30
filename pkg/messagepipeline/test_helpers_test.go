package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog/log"
)

// receiveSingleMessage waits for one message from a subscription.
func receiveSingleMessage(t *testing.T, ctx context.Context, sub *pubsub.Subscription, timeout time.Duration) *pubsub.Message {
	t.Helper()
	var receivedMsg *pubsub.Message
	var mu sync.RWMutex

	receiveCtx, receiveCancel := context.WithTimeout(ctx, timeout)
	defer receiveCancel()

	err := sub.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		if receivedMsg == nil {
			receivedMsg = msg
			msg.Ack()
			receiveCancel()
		} else {
			msg.Nack()
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		t.Logf("Receive loop ended with error: %v", err)
	}

	mu.RLock()
	defer mu.RUnlock()
	return receivedMsg
}

// ====================================================================================
// Mocks for the interfaces defined in this package.
// ====================================================================================

// --- MockMessageConsumer ---

// MockMessageConsumer simulates a message source.
type MockMessageConsumer struct {
	msgChan    chan types.ConsumedMessage
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	startMu    sync.Mutex
	startCount int
	stopCount  int
}

// NewMockMessageConsumer creates a new mock consumer with a buffered channel.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockMessageConsumer{
		msgChan:  make(chan types.ConsumedMessage, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan types.ConsumedMessage {
	return m.msgChan
}

func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startCount++
	if m.startErr != nil {
		return m.startErr
	}
	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	return nil
}

// Stop closes the channels and Nacks anything still buffered, like a real
// consumer would on shutdown.
func (m *MockMessageConsumer) Stop() error {
	m.stopOnce.Do(func() {
		m.startMu.Lock()
		m.stopCount++
		m.startMu.Unlock()

		close(m.doneChan)
		close(m.msgChan)

		for msg := range m.msgChan {
			log.Warn().Str("msg_id", msg.ID).Msg("MockConsumer draining and Nacking message on shutdown.")
			if msg.Nack != nil {
				msg.Nack()
			}
		}
	})
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} {
	return m.doneChan
}

// Push injects a message into the mock consumer's channel.
func (m *MockMessageConsumer) Push(msg types.ConsumedMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Msg("Recovered from panic trying to push to closed consumer channel.")
		}
	}()
	m.msgChan <- msg
}

func (m *MockMessageConsumer) SetStartError(err error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) GetStartCount() int {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.startCount
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.stopCount
}

// --- MockMessageProcessor ---

// MockMessageProcessor records every decoded message it receives.
type MockMessageProcessor[T any] struct {
	InputChan    chan *types.DecodedMessage[T]
	Received     []*types.DecodedMessage[T]
	mu           sync.Mutex
	wg           sync.WaitGroup
	startCount   int
	stopCount    int
	ackOnProcess bool
}

// NewMockMessageProcessor creates a new mock processor.
func NewMockMessageProcessor[T any](bufferSize int) *MockMessageProcessor[T] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockMessageProcessor[T]{
		InputChan: make(chan *types.DecodedMessage[T], bufferSize),
		Received:  []*types.DecodedMessage[T]{},
	}
}

func (m *MockMessageProcessor[T]) Input() chan<- *types.DecodedMessage[T] {
	return m.InputChan
}

func (m *MockMessageProcessor[T]) Start() {
	m.mu.Lock()
	m.startCount++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range m.InputChan {
			m.mu.Lock()
			m.Received = append(m.Received, msg)
			ackOnProcess := m.ackOnProcess
			m.mu.Unlock()
			if ackOnProcess && msg.OriginalMessage.Ack != nil {
				msg.OriginalMessage.Ack()
			}
		}
	}()
}

func (m *MockMessageProcessor[T]) Stop() {
	m.mu.Lock()
	m.stopCount++
	m.mu.Unlock()
	close(m.InputChan)
	m.wg.Wait()
}

func (m *MockMessageProcessor[T]) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageProcessor[T]) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// GetReceived returns a copy of the messages received by the processor.
func (m *MockMessageProcessor[T]) GetReceived() []*types.DecodedMessage[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	receivedCopy := make([]*types.DecodedMessage[T], len(m.Received))
	copy(receivedCopy, m.Received)
	return receivedCopy
}

// SetAckOnProcess makes the processor Ack each original message it receives.
func (m *MockMessageProcessor[T]) SetAckOnProcess(b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackOnProcess = b
}

// --- MockDeadLetterer ---

// MockDeadLetterer records dead-lettered messages, optionally failing.
type MockDeadLetterer struct {
	mu     sync.Mutex
	err    error
	IDs    []string
	Causes []error
}

func (d *MockDeadLetterer) DeadLetter(_ context.Context, msg types.ConsumedMessage, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.IDs = append(d.IDs, msg.ID)
	d.Causes = append(d.Causes, cause)
	return nil
}

func (d *MockDeadLetterer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.IDs)
}

// --- messageState ---

// messageState tracks the Ack/Nack status of one message.
type messageState struct {
	ID         string
	mu         sync.Mutex
	ackCalled  bool
	nackCalled bool
}

func (ms *messageState) Ack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ackCalled = true
}

func (ms *messageState) Nack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled = true
}

func (ms *messageState) IsAcked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ackCalled
}

func (ms *messageState) IsNacked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nackCalled
}

// message builds a ConsumedMessage wired to ms.
func (ms *messageState) message(payload string) types.ConsumedMessage {
	return types.ConsumedMessage{
		ID:      ms.ID,
		Payload: []byte(payload),
		Ack:     ms.Ack,
		Nack:    ms.Nack,
	}
}
