package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"annotation-backend/internal/messaging"
	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := messaging.NewInMemoryQueue()

	payload := messaging.EventsPayload{Events: []api.Event{
		{Scope: "create:project", Source: "server", Timestamp: time.Now().UTC()},
	}}
	require.NoError(t, queue.PublishEvents(context.Background(), payload))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.EventsQueue, task.Type())

	var got messaging.EventsPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "create:project", got.Events[0].Scope)
	assert.NoError(t, task.Ack())

	queue.Close()
	queue.Close()

	err := queue.PublishEvents(context.Background(), payload)
	assert.ErrorIs(t, err, messaging.ErrQueueClosed)

	_, ok := <-queue.Tasks()
	assert.False(t, ok)
}

func TestInMemoryQueuePublishCancelled(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, queue.PublishEvents(context.Background(), messaging.EventsPayload{}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, queue.PublishEvents(ctx, messaging.EventsPayload{}), context.Canceled)
}

func TestInMemoryQueueCloseWhilePublishBlocked(t *testing.T) {
	queue := messaging.NewInMemoryQueue()

	for i := 0; i < 100; i++ {
		require.NoError(t, queue.PublishEvents(context.Background(), messaging.EventsPayload{}))
	}

	published := make(chan error, 1)
	go func() {
		published <- queue.PublishEvents(context.Background(), messaging.EventsPayload{})
	}()

	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		queue.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return while a publish was waiting")
	}

	select {
	case err := <-published:
		assert.ErrorIs(t, err, messaging.ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked publish did not return after close")
	}
}
