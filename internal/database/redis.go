package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig sizes the job store client. Every poll and every step update is
// one round trip, so the pool tracks the runner's worker count.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// JobStoreRedisConfig derives a pool size from the number of runner workers:
// a connection per worker plus a fixed share for HTTP polls.
func JobStoreRedisConfig(url string, workers, poolSize int) RedisConfig {
	if poolSize <= 0 {
		poolSize = workers + 10
	}
	return RedisConfig{
		URL:          url,
		PoolSize:     poolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c RedisConfig) options() (*redis.Options, error) {
	if c.URL == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		opts.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		opts.WriteTimeout = c.WriteTimeout
	}
	if opts.ClientName == "" {
		opts.ClientName = ApplicationName
	}
	return opts, nil
}

// Redis wraps the client behind the shared job store.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and checks the server with a ping.
func NewRedis(ctx context.Context, c RedisConfig, logger *zap.Logger) (*Redis, error) {
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB), zap.Int("pool_size", opts.PoolSize))
	return &Redis{client: client}, nil
}

// Client returns the underlying client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Ping implements the deep health check.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
