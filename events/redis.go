package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shaharia-lab/scriptbridge/observability"
)

// Message is the JSON form of an event published on Redis.
type Message struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RedisSource is a Source fed by a Redis pub/sub channel.
type RedisSource struct {
	*Broadcaster

	client  *redis.Client
	channel string
	logger  observability.Logger
}

// NewRedisSource creates a source listening on channel.
func NewRedisSource(client *redis.Client, channel string, logger observability.Logger) *RedisSource {
	return &RedisSource{
		Broadcaster: NewBroadcaster(),
		client:      client,
		channel:     channel,
		logger:      observability.OrNull(logger),
	}
}

// NewRedisSourceFromAddr connects to the Redis server at addr.
func NewRedisSourceFromAddr(addr, channel string, logger observability.Logger) *RedisSource {
	return NewRedisSource(redis.NewClient(&redis.Options{Addr: addr}), channel, logger)
}

// Run subscribes to the channel and broadcasts every received event until ctx
// is done.
func (s *RedisSource) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	s.logger.Infof("Listening for events on redis channel %s", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Payload)
		}
	}
}

// Publish sends an event to every RedisSource listening on the channel.
func (s *RedisSource) Publish(ctx context.Context, name string, data json.RawMessage) error {
	b, err := json.Marshal(Message{Name: name, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", name, err)
	}
	return s.client.Publish(ctx, s.channel, b).Err()
}

// Close closes the Redis client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (s *RedisSource) handle(payload string) {
	msg, err := DecodeMessage([]byte(payload))
	if err != nil {
		s.logger.WithErr(err).Warn("Ignoring malformed redis event")
		return
	}
	s.Broadcast(msg.Name, msg.Data)
}

// DecodeMessage parses a published event.
func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if msg.Name == "" {
		return Message{}, errors.New("event name is missing")
	}
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage("null")
	}
	return msg, nil
}
