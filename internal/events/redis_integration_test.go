//go:build integration

package events_test

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/policeintel/auditledger/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_publishesJSON(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	client, err := events.DialRedis(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	pubsub := client.Subscribe(ctx, "auditledger.test")
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	sink := events.NewRedisSink(client, "auditledger.test")
	require.NoError(t, sink.Publish(ctx, events.Event{
		Type:      events.TypeLedgerCompromised,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"broken_at": "2"},
	}))

	select {
	case msg := <-pubsub.Channel():
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, events.TypeLedgerCompromised, ev.Type)
		assert.Equal(t, "2", ev.Payload["broken_at"])
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}
