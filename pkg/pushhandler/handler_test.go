package pushhandler_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/gin-gonic/gin"
	"github.com/illmade-knight/go-queuemessage/pkg/messagepipeline"
	"github.com/illmade-knight/go-queuemessage/pkg/pushhandler"
	"github.com/illmade-knight/go-queuemessage/pkg/queuemessage"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type order struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

type recordingDeadLetterer struct {
	mu  sync.Mutex
	err error
	ids []string
}

func (r *recordingDeadLetterer) DeadLetter(_ context.Context, msg types.ConsumedMessage, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, msg.ID)
	return nil
}

// envelope wraps a published message body the way Pub/Sub push does:
// message.data is the base64 of the bytes that were published.
func envelope(t *testing.T, id, published string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":        base64.StdEncoding.EncodeToString([]byte(published)),
			"messageId":   id,
			"attributes":  map[string]string{"origin": "push"},
			"publishTime": "2025-06-01T12:00:00Z",
		},
		"subscription":    "projects/p/subscriptions/orders-push",
		"deliveryAttempt": 2,
	})
	require.NoError(t, err)
	return string(body)
}

func serve(t *testing.T, h *pushhandler.Handler[order], body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.Register(router, "/push")

	req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestNew_RequiresHandlerFunc(t *testing.T) {
	_, err := pushhandler.New[order](nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	good, err := queuemessage.Encode(order{OrderID: "o-1", Amount: 9.5})
	require.NoError(t, err)
	withExtra, err := queuemessage.Encode(map[string]any{"orderId": "o-2", "amount": 1, "coupon": "X"})
	require.NoError(t, err)

	testCases := []struct {
		name        string
		body        string
		opts        func(dl *recordingDeadLetterer) []pushhandler.Option
		handlerErr  error
		dlErr       error
		wantStatus  int
		wantCode    string
		wantHandled bool
		wantDL      int
	}{
		{name: "decoded and handled", body: envelope(t, "1", good), wantStatus: http.StatusNoContent, wantHandled: true},
		{name: "unknown field ignored by default", body: envelope(t, "2", withExtra), wantStatus: http.StatusNoContent, wantHandled: true},
		{
			name: "unknown field rejected when strict",
			body: envelope(t, "3", withExtra),
			opts: func(*recordingDeadLetterer) []pushhandler.Option {
				return []pushhandler.Option{pushhandler.WithDecodeOptions(queuemessage.Strict())}
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_payload",
		},
		{name: "bad base64 without sink", body: envelope(t, "4", "%%%"), wantStatus: http.StatusBadRequest, wantCode: "malformed_payload"},
		{
			name: "bad base64 dead-lettered",
			body: envelope(t, "5", "%%%"),
			opts: func(dl *recordingDeadLetterer) []pushhandler.Option {
				return []pushhandler.Option{pushhandler.WithDeadLetterer(dl)}
			},
			wantStatus: http.StatusNoContent,
			wantDL:     1,
		},
		{
			name: "dead-letter failure",
			body: envelope(t, "6", "%%%"),
			opts: func(dl *recordingDeadLetterer) []pushhandler.Option {
				return []pushhandler.Option{pushhandler.WithDeadLetterer(dl)}
			},
			dlErr:      errors.New("sink down"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "dead_letter_failed",
		},
		{name: "handler error", body: envelope(t, "7", good), handlerErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "handler_failed", wantHandled: true},
		{name: "not json", body: "{", wantStatus: http.StatusBadRequest, wantCode: "invalid_envelope"},
		{
			name:       "data without transport encoding",
			body:       `{"message":{"data":"%%%","messageId":"8"},"subscription":"s"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_envelope",
		},
		{name: "no message", body: `{"subscription":"s"}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_envelope"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dl := &recordingDeadLetterer{err: tc.dlErr}
			var opts []pushhandler.Option
			if tc.opts != nil {
				opts = tc.opts(dl)
			}

			handled := false
			h, err := pushhandler.New(func(_ context.Context, msg types.ConsumedMessage, payload *order) error {
				handled = true
				assert.Equal(t, "push", msg.Attributes["origin"])
				assert.Equal(t, 2, msg.DequeueCount)
				assert.NotEmpty(t, payload.OrderID)
				return tc.handlerErr
			}, zerolog.Nop(), opts...)
			require.NoError(t, err)

			resp := serve(t, h, tc.body)

			assert.Equal(t, tc.wantStatus, resp.Code)
			assert.Equal(t, tc.wantHandled, handled)
			assert.Len(t, dl.ids, tc.wantDL)
			if tc.wantCode != "" {
				var errResp pushhandler.ErrorResponse
				require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
				assert.Equal(t, tc.wantCode, errResp.Error.Code)
			}
		})
	}
}

func TestHandle_MessagePublishedThroughPubsub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })
	client, err := pubsub.NewClient(ctx, "push-test",
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	_, err = client.CreateTopic(ctx, "orders")
	require.NoError(t, err)

	publisher, err := messagepipeline.NewGoogleQueuePublisher(client, "orders", zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Stop()
	msgID, err := publisher.Publish(ctx, order{OrderID: "o-1", Amount: 9.5}, map[string]string{"origin": "push"})
	require.NoError(t, err)

	published := srv.Messages()
	require.Len(t, published, 1)

	var got *order
	h, err := pushhandler.New(func(_ context.Context, _ types.ConsumedMessage, payload *order) error {
		got = payload
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)

	resp := serve(t, h, envelope(t, msgID, string(published[0].Data)))

	assert.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())
	assert.Equal(t, &order{OrderID: "o-1", Amount: 9.5}, got)
}
