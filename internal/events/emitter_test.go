package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/internal/messaging"
	"annotation-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingSink struct {
	events   []api.Event
	rendered []json.RawMessage
	err      error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, evs []api.Event, rendered []json.RawMessage) error {
	s.events = append(s.events, evs...)
	s.rendered = append(s.rendered, rendered...)
	return s.err
}

func TestEmitterFanOut(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink down")}
	sink := &recordingSink{}
	emitter := events.NewEmitter(failing, sink)

	emitter.Emit(context.Background(), events.Delete(events.ResourceTask, 1, ptr("t"), events.Context{}))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "delete:task", sink.events[0].Scope)
	assert.Contains(t, string(sink.rendered[0]), `"scope":"delete:task"`)
	assert.Len(t, failing.events, 1)

	var nilEmitter *events.Emitter
	nilEmitter.Emit(context.Background(), events.Delete(events.ResourceTask, 1, nil, events.Context{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	emitter := events.NewEmitter(events.NewLogSink(logger))
	emitter.Emit(context.Background(), events.Delete(events.ResourceProject, 2, ptr("p"), events.Context{}))

	assert.Contains(t, buf.String(), `"scope":"delete:project"`)
	assert.Contains(t, buf.String(), `"component":"events"`)
}

func TestQueueSink(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	emitter := events.NewEmitter(events.NewQueueSink(queue))
	emitter.Emit(context.Background(),
		events.Delete(events.ResourceJob, 1, nil, events.Context{}),
		events.Delete(events.ResourceJob, 2, nil, events.Context{}),
	)

	task := <-queue.Tasks()
	assert.Equal(t, messaging.EventsQueue, task.Type())
	var payload messaging.EventsPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Len(t, payload.Events, 2)
	assert.Equal(t, 2, *payload.Events[1].ObjId)
}

func TestQueueSinkFullQueue(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, queue.PublishEvents(context.Background(), messaging.EventsPayload{}))
	}

	sink := events.NewQueueSink(queue).WithTimeout(50 * time.Millisecond)
	err := sink.Send(context.Background(), []api.Event{events.Delete(events.ResourceJob, 1, nil, events.Context{})}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	recorded := &recordingSink{}
	emitted := make(chan struct{})
	go func() {
		events.NewEmitter(sink, recorded).Emit(context.Background(), events.Delete(events.ResourceJob, 2, nil, events.Context{}))
		close(emitted)
	}()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("emit did not return while the queue was full")
	}
	assert.Len(t, recorded.events, 1)
}

func TestStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.GetMigrator(db).Migrate())

	created, err := events.Create(events.ResourceUser, 5, ptr("admin"), api.BasicUser{Id: 5, Username: "admin"}, events.Context{})
	require.NoError(t, err)
	deleted := events.Delete(events.ResourceUser, 5, ptr("admin"), events.Context{})

	require.NoError(t, events.Store(db, []api.Event{created, deleted}))
	require.NoError(t, events.Store(db, nil))

	var rows []database.Event
	require.NoError(t, db.Order("scope").Find(&rows).Error)
	require.Len(t, rows, 2)

	first := events.FromModel(rows[0])
	assert.Equal(t, "create:user", first.Scope)
	assert.Equal(t, "admin", *first.ObjName)
	assert.Nil(t, first.ObjVal)
	assert.JSONEq(t, string(created.Payload), string(first.Payload))

	second := events.FromModel(rows[1])
	assert.Equal(t, "delete:user", second.Scope)
	assert.Empty(t, second.Payload)
}
