package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"annotation-backend/pkg/api"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "annotation:events"

// RedisSink publishes every event on a Redis channel for live subscribers.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSink(rdb *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Name() string {
	return "redis"
}

func (s *RedisSink) Send(ctx context.Context, events []api.Event, rendered []json.RawMessage) error {
	pipe := s.rdb.Pipeline()
	for _, data := range rendered {
		pipe.Publish(ctx, s.channel, []byte(data))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error publishing events to redis channel %s: %w", s.channel, err)
	}
	return nil
}

// Subscription delivers events published on the sink's channel. Close must be
// called when done.
type Subscription struct {
	events <-chan api.Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

func (s *Subscription) Events() <-chan api.Event {
	return s.events
}

// Errors reports messages that could not be decoded. The subscription keeps
// running after an error.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *RedisSink) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("error subscribing to redis channel %s: %w", s.channel, err)
	}

	eventsChan := make(chan api.Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event api.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to decode event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancel,
	}, nil
}
