package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Envelope is the JSON document published to Redis for each delivery.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay publishes deliveries to Redis Pub/Sub, one channel per topic,
// for gateways running outside this process.
type RedisRelay struct {
	client *redis.Client
	prefix string
}

// NewRedisRelay connects to redisURL. Channels are named prefix+topic.
func NewRedisRelay(ctx context.Context, redisURL, prefix string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisRelay{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for components sharing the connection.
func (r *RedisRelay) Client() *redis.Client {
	return r.client
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Channel returns the Redis channel a topic is published on.
func (r *RedisRelay) Channel(topic string) string {
	return r.prefix + topic
}

// Deliver implements Deliverer.
func (r *RedisRelay) Deliver(ctx context.Context, topic string, payload any) error {
	data, err := encodeEnvelope(topic, payload)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(topic), data).Err()
}

func encodeEnvelope(topic string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return json.Marshal(Envelope{Topic: topic, Payload: body})
}
