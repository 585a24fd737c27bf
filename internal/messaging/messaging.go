package messaging

import (
	"context"
	"time"

	"annotation-backend/pkg/api"
)

const (
	EventsQueue     = "events_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type EventsPayload struct {
	Events []api.Event `json:"events"`
}

type Publisher interface {
	PublishEvents(ctx context.Context, payload EventsPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
