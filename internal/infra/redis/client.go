package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key events are appended to.
const DefaultStream = "artline:events"

// Client wraps the Redis event stream.
type Client struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg Config) *Client {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Client{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Stream returns the stream key events are appended to.
func (c *Client) Stream() string {
	return c.stream
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Append adds one record to the stream, trimming it to roughly MaxLen entries.
func (c *Client) Append(ctx context.Context, values map[string]any) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: c.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// StreamEntry is one record read back from the stream.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

// Recent returns up to count entries, newest first.
func (c *Client) Recent(ctx context.Context, count int64) ([]StreamEntry, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}
	return toEntries(msgs), nil
}

func toEntries(msgs []redis.XMessage) []StreamEntry {
	out := make([]StreamEntry, len(msgs))
	for i, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			values[k] = fmt.Sprint(v)
		}
		out[i] = StreamEntry{ID: m.ID, Values: values}
	}
	return out
}
