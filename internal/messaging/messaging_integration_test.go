//go:build integration
// +build integration

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestPublishConsumeEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.11-management")
	require.NoError(t, err, "Failed to start RabbitMQ container")
	defer func() {
		if err := rabbitmqContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate RabbitMQ container: %v", err)
		}
	}()

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	publisher, err := NewRabbitMQPublisher(connStr)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := NewRabbitMQReceiver(connStr)
	require.NoError(t, err)
	defer receiver.Close()

	projectId := 7
	payload := EventsPayload{Events: []api.Event{
		{Scope: "create:task", Source: "server", ProjectId: &projectId, Timestamp: time.Now().UTC()},
	}}
	require.NoError(t, publisher.PublishEvents(ctx, payload))

	select {
	case task := <-receiver.Tasks():
		assert.Equal(t, EventsQueue, task.Type())

		var got EventsPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &got))
		require.Len(t, got.Events, 1)
		assert.Equal(t, "create:task", got.Events[0].Scope)
		assert.Equal(t, projectId, *got.Events[0].ProjectId)
		require.NoError(t, task.Ack())
	case <-ctx.Done():
		t.Fatal("timed out waiting for events task")
	}
}
