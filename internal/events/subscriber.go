package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventPublisher is what the subscriber hands decoded events to
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber consumes domain events from a Redis pub/sub channel
type Subscriber struct {
	client    *redis.Client
	channel   string
	publisher EventPublisher
	log       zerolog.Logger
}

func NewSubscriber(client *redis.Client, channel string, publisher EventPublisher, log zerolog.Logger) *Subscriber {
	return &Subscriber{client: client, channel: channel, publisher: publisher, log: log}
}

// Run blocks until ctx is cancelled or the subscription breaks
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.log.Info().Str("channel", s.channel).Msg("event_subscriber_started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Str("channel", s.channel).Msg("event_subscriber_stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.channel)
			}
			s.Handle(ctx, []byte(msg.Payload))
		}
	}
}

// Handle decodes and publishes one message. Bad messages are logged and dropped.
func (s *Subscriber) Handle(ctx context.Context, payload []byte) {
	ev, err := ParseEvent(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid_event_received")
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event_publish_failed")
	}
}

// Emit publishes an event on the channel; the CLI and collaborators use it
func Emit(ctx context.Context, client redis.Cmdable, channel string, ev Event) error {
	raw, err := ev.MarshalJSON()
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, raw).Err()
}
