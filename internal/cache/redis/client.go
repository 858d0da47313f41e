// Package redis implements the price cache, loop lock, outbound rate limiter
// and signal bus on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName         = "triarb"
	defaultDialTimeout = 5 * time.Second
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	// DialTimeout bounds connection setup. Defaults to 5s.
	DialTimeout time.Duration
}

// Client owns the connection pool shared by the cache, lock, limiter and bus.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a PING. Every
// connection identifies itself as "triarb" in CLIENT LIST.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: dial,
		ClientName:  clientName,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the driver client for the adapters in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
