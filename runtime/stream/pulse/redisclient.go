package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// RedisClientOptions configures NewRedisClient.
type RedisClientOptions struct {
	// Redis is the connection Pulse streams are opened against. Required.
	Redis *redis.Client
	// StreamMaxLen bounds the number of entries kept per stream. Zero uses
	// Pulse's default.
	StreamMaxLen int
}

type redisClient struct {
	redis  *redis.Client
	maxLen int
}

// NewRedisClient adapts a Redis connection into the Client this package's
// Sink publishes through, grounded on the teacher's
// features/stream/pulse/clients/pulse client, narrowed to the Add-only
// surface stream.Sink actually needs.
func NewRedisClient(opts RedisClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &redisClient{redis: opts.Redis, maxLen: opts.StreamMaxLen}, nil
}

func (c *redisClient) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	if c.maxLen > 0 {
		opts = append([]streamopts.Stream{streamopts.WithStreamMaxLen(c.maxLen)}, opts...)
	}
	str, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open stream %q: %w", name, err)
	}
	return &redisStream{stream: str}, nil
}

// Close is a no-op: the caller owns the Redis connection's lifecycle.
func (c *redisClient) Close(ctx context.Context) error { return nil }

type redisStream struct {
	stream *streaming.Stream
}

func (s *redisStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	id, err := s.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add event %q: %w", event, err)
	}
	return id, nil
}
