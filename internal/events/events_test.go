package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/events"
)

func TestPublishing(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := events.Publishing(events.Event{
		Type:         events.TypeDatasetSynchronized,
		DatasetID:    4,
		DepositionID: 9,
		DOI:          "10.5072/fakenodo.9",
		OccurredAt:   at,
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, events.TypeDatasetSynchronized, msg.Type)
	assert.Equal(t, at, msg.Timestamp)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "dataset.synchronized", body["type"])
	assert.EqualValues(t, 4, body["dataset_id"])
	assert.Equal(t, "10.5072/fakenodo.9", body["doi"])
}

func TestPublishing_StampsTime(t *testing.T) {
	t.Parallel()

	msg, err := events.Publishing(events.Event{Type: events.TypeDatasetSynchronized})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Minute)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var p events.Publisher = events.Noop{}
	assert.NoError(t, p.Publish(context.Background(), events.Event{}))
	assert.NoError(t, p.Close())
}
