package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"annotation-backend/internal/events"
	"annotation-backend/internal/messaging"

	"gorm.io/gorm"
)

// TaskProcessor consumes event batches from the queue and stores them.
type TaskProcessor struct {
	db       *gorm.DB
	reciever messaging.Reciever
	emitter  *events.Emitter
}

// NewTaskProcessor creates a processor. Failures are reported through emitter,
// which must not publish back to the queue the processor consumes.
func NewTaskProcessor(db *gorm.DB, reciever messaging.Reciever, emitter *events.Emitter) *TaskProcessor {
	return &TaskProcessor{
		db:       db,
		reciever: reciever,
		emitter:  emitter,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}

	slog.Info("task processor stopped")
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.EventsQueue:
		var payload messaging.EventsPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling events task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processEventsTask(payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		proc.reportFailure(ctx, err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processEventsTask(payload messaging.EventsPayload) error {
	if err := events.Store(proc.db, payload.Events); err != nil {
		return fmt.Errorf("error saving events: %w", err)
	}
	return nil
}

func (proc *TaskProcessor) reportFailure(ctx context.Context, err error) {
	event, buildErr := events.Exception(events.ExceptionPayload{
		Message: err.Error(),
		Stack:   string(debug.Stack()),
	}, events.Context{})
	if buildErr != nil {
		slog.Error("error building exception event", "error", buildErr)
		return
	}
	proc.emitter.Emit(ctx, event)
}
