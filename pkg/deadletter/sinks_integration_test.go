//go:build integration

package deadletter

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/go-queuemessage/helpers/emulators"
	"github.com/illmade-knight/go-queuemessage/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
)

func TestRedisSink_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn := emulators.SetupRedisContainer(t, ctx, emulators.GetDefaultRedisImageContainer())
	rdb := redis.NewClient(&redis.Options{Addr: conn.EmulatorAddress})
	defer rdb.Close()

	sink, err := NewRedisSink(rdb, RedisSinkConfig{List: "queuepeek:dead", MaxLen: 3}, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg := types.ConsumedMessage{ID: fmt.Sprintf("m-%d", i), Payload: []byte("%%%")}
		require.NoError(t, sink.DeadLetter(ctx, msg, errors.New("bad")))
	}

	entries, err := rdb.LRange(ctx, "queuepeek:dead", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 3, "list should be trimmed to MaxLen")

	var newest Record
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &newest))
	assert.Equal(t, "m-4", newest.ID)
}

func TestGCSSink_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const bucket = "queuepeek-dead-letters"
	conn := emulators.SetupGCSEmulator(t, ctx, emulators.GetDefaultGCSConfig("test-project", bucket))
	gcsClient, err := storage.NewClient(ctx, conn.ClientOptions...)
	require.NoError(t, err)
	defer gcsClient.Close()

	sink, err := NewGCSSink(NewGCSClientAdapter(gcsClient), GCSSinkConfig{BucketName: bucket, ObjectPrefix: "dl"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sink.DeadLetter(ctx, types.ConsumedMessage{ID: "gcs-1", Payload: []byte("%%%")}, errors.New("bad")))

	it := gcsClient.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: "dl/"})
	attrs, err := it.Next()
	require.NoError(t, err)
	_, err = it.Next()
	assert.ErrorIs(t, err, iterator.Done)

	reader, err := gcsClient.Bucket(bucket).Object(attrs.Name).ReadCompressed(true).NewReader(ctx)
	require.NoError(t, err)
	defer reader.Close()
	gz, err := gzip.NewReader(reader)
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.NewDecoder(gz).Decode(&record))
	assert.Equal(t, "gcs-1", record.ID)
	assert.Equal(t, "%%%", record.MessageText)
	assert.Equal(t, []byte("%%%"), record.MessageBody)
}

func TestFirestoreSink_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const projectID = "test-project-dead-letters"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	defer client.Close()

	sink, err := NewFirestoreSink(client, FirestoreSinkConfig{Collection: "dead-letters"}, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)

	body := []byte("\x80\xff")
	msg := types.ConsumedMessage{
		ID:         "devices/d1/7",
		Payload:    body,
		Attributes: map[string]string{"topic": "devices/d1/readings"},
	}
	require.NoError(t, sink.DeadLetter(ctx, msg, errors.New("bad")))
	// The same message ID again is a second document, not an overwrite.
	require.NoError(t, sink.DeadLetter(ctx, msg, errors.New("bad")))

	docs, err := client.Collection("dead-letters").Documents(ctx).GetAll()
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var record Record
	require.NoError(t, docs[0].DataTo(&record))
	assert.Equal(t, "devices/d1/7", record.ID)
	assert.Equal(t, body, record.MessageBody)
	assert.Equal(t, "bad", record.Reason)
	assert.Equal(t, KindOther, record.Kind)
	assert.Equal(t, "devices/d1/readings", record.Attributes["topic"])
}
