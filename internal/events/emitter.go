package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"annotation-backend/internal/messaging"
	"annotation-backend/pkg/api"
)

// Sink receives every emitted batch. rendered[i] is the JSON form of events[i].
type Sink interface {
	Name() string

	Send(ctx context.Context, events []api.Event, rendered []json.RawMessage) error
}

// Emitter renders events once and fans them out to its sinks. Sink failures
// are logged and never returned to the caller.
type Emitter struct {
	sinks []Sink
}

func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

func (e *Emitter) Emit(ctx context.Context, events ...api.Event) {
	if e == nil || len(events) == 0 {
		return
	}

	rendered := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			slog.Error("error rendering event", "scope", event.Scope, "error", err)
			return
		}
		rendered = append(rendered, data)
	}

	for _, sink := range e.sinks {
		if err := sink.Send(ctx, events, rendered); err != nil {
			slog.Error("error sending events to sink", "sink", sink.Name(), "count", len(events), "error", err)
		}
	}
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Send(ctx context.Context, events []api.Event, rendered []json.RawMessage) error {
	for i, event := range events {
		s.logger.InfoContext(ctx, "event", "scope", event.Scope, "event", string(rendered[i]))
	}
	return nil
}

// DefaultPublishTimeout bounds how long a request waits on a full queue.
const DefaultPublishTimeout = 5 * time.Second

// QueueSink hands events to the worker that stores them.
type QueueSink struct {
	publisher messaging.Publisher
	timeout   time.Duration
}

func NewQueueSink(publisher messaging.Publisher) *QueueSink {
	return &QueueSink{publisher: publisher, timeout: DefaultPublishTimeout}
}

// WithTimeout sets how long Send waits for the queue to accept a batch.
func (s *QueueSink) WithTimeout(timeout time.Duration) *QueueSink {
	s.timeout = timeout
	return s
}

func (s *QueueSink) Name() string {
	return "queue"
}

func (s *QueueSink) Send(ctx context.Context, events []api.Event, rendered []json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.publisher.PublishEvents(ctx, messaging.EventsPayload{Events: events}); err != nil {
		return fmt.Errorf("error publishing events: %w", err)
	}
	return nil
}
