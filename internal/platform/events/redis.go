package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/platform/websocket"
)

// Channel is the Redis pub/sub channel queue events travel on.
const Channel = "wbhsms:queue-events"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes events to Channel so every instance's Relay can deliver
// them to its own boards.
type Redis struct {
	client redisPublisher
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Relay subscribes to Channel and delivers each event to the local hub.
type Relay struct {
	client *redis.Client
	hub    *websocket.Hub
	logger zerolog.Logger
}

func NewRelay(client *redis.Client, hub *websocket.Hub, logger zerolog.Logger) *Relay {
	return &Relay{client: client, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription channel closes.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	r.logger.Info().Str("channel", Channel).Msg("queue event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Warn().Err(err).Msg("malformed queue event on relay channel")
		return
	}
	r.hub.Deliver(ev.Topics, []byte(payload))
}

// ParseRedisURL builds a client from a redis:// URL.
func ParseRedisURL(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
