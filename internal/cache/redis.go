package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/internal/metrics"
)

// Redis is a Recent shared by every replica. Redis failures are logged and
// treated as misses.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// NewRedis connects to redisURL and verifies the connection
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration, m *metrics.Recorder, logger *zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return newRedis(client, ttl, m, logger), nil
}

func newRedis(client *redis.Client, ttl time.Duration, m *metrics.Recorder, logger *zerolog.Logger) *Redis {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Redis{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With().Str("component", "recent_cache").Logger(),
	}
}

func (c *Redis) Seen(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Recent cache lookup failed")
		c.metrics.RecordCacheLookup(false)
		return false
	}
	c.metrics.RecordCacheLookup(n > 0)
	return n > 0
}

func (c *Redis) Mark(ctx context.Context, key string) {
	if err := c.client.Set(ctx, key, 1, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Recent cache write failed")
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}
