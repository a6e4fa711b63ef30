package pushhandler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/illmade-knight/go-queuemessage/pkg/messagepipeline"
	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// An HTTP endpoint for Pub/Sub push subscriptions. Pub/Sub base64-encodes the
// message bytes into message.data on the wire; once that transport layer is
// removed the bytes are the queue body, decoded with the same rules as a
// pulled message. A 2xx response acknowledges the message and anything else
// makes Pub/Sub redeliver it.
// ====================================================================================

// PushMessage is the message part of a push envelope. Data holds the
// published message bytes; encoding/json strips the transport base64.
type PushMessage struct {
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes"`
	MessageID   string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime"`
}

// PushEnvelope is the request body Pub/Sub sends to a push endpoint.
type PushEnvelope struct {
	Message         PushMessage `json:"message"`
	Subscription    string      `json:"subscription"`
	DeliveryAttempt int         `json:"deliveryAttempt"`
}

// ErrorBody is the JSON error object returned on failures.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HandlerFunc processes one decoded push message. Returning an error makes
// the endpoint answer 500 so the message is redelivered.
type HandlerFunc[T any] func(ctx context.Context, msg types.ConsumedMessage, payload *T) error

type settings struct {
	decodeOpts   []queuemessage.Option
	deadLetterer messagepipeline.DeadLetterer
}

// Option configures a Handler.
type Option func(*settings)

// WithDecodeOptions sets the options passed to queuemessage.As.
func WithDecodeOptions(opts ...queuemessage.Option) Option {
	return func(s *settings) { s.decodeOpts = append(s.decodeOpts, opts...) }
}

// WithDeadLetterer parks malformed payloads in d and acknowledges them
// instead of rejecting them with 400.
func WithDeadLetterer(d messagepipeline.DeadLetterer) Option {
	return func(s *settings) { s.deadLetterer = d }
}

// Handler is a gin handler for push deliveries of T.
type Handler[T any] struct {
	handle HandlerFunc[T]
	cfg    settings
	logger zerolog.Logger
}

// New creates a Handler that decodes push payloads into T and passes them to handle.
func New[T any](handle HandlerFunc[T], logger zerolog.Logger, opts ...Option) (*Handler[T], error) {
	if handle == nil {
		return nil, errors.New("push handler func cannot be nil")
	}
	h := &Handler[T]{
		handle: handle,
		logger: logger.With().Str("component", "PushHandler").Logger(),
	}
	for _, opt := range opts {
		opt(&h.cfg)
	}
	return h, nil
}

// Register mounts the handler as a POST route.
func (h *Handler[T]) Register(r gin.IRoutes, path string) {
	r.POST(path, h.Handle)
}

// Handle serves one push request.
func (h *Handler[T]) Handle(c *gin.Context) {
	var env PushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid_envelope", "request body is not a push envelope")
		return
	}
	if env.Message.MessageID == "" {
		h.fail(c, http.StatusBadRequest, "invalid_envelope", "push envelope has no message")
		return
	}

	msg := types.ConsumedMessage{
		ID:           env.Message.MessageID,
		Payload:      env.Message.Data,
		PublishTime:  env.Message.PublishTime,
		Attributes:   env.Message.Attributes,
		DequeueCount: env.DeliveryAttempt,
	}
	log := h.logger.With().Str("msg_id", msg.ID).Str("subscription", env.Subscription).Logger()

	payload, err := queuemessage.As[T](msg, h.cfg.decodeOpts...)
	if err != nil {
		if !queuemessage.IsMalformed(err) || h.cfg.deadLetterer == nil {
			log.Warn().Err(err).Msg("Rejecting undecodable push message.")
			h.fail(c, http.StatusBadRequest, "malformed_payload", err.Error())
			return
		}
		if dlErr := h.cfg.deadLetterer.DeadLetter(c.Request.Context(), msg, err); dlErr != nil {
			log.Error().Err(dlErr).AnErr("decode_error", err).Msg("Failed to dead-letter push message.")
			h.fail(c, http.StatusInternalServerError, "dead_letter_failed", "could not store malformed message")
			return
		}
		log.Warn().Err(err).Msg("Malformed push message dead-lettered.")
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.handle(c.Request.Context(), msg, payload); err != nil {
		log.Error().Err(err).Msg("Push message handler failed.")
		h.fail(c, http.StatusInternalServerError, "handler_failed", "message processing failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler[T]) fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}
