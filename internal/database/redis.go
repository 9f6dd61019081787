package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions sizes the command pool. Pub/sub subscriptions hold a dedicated
// connection each, outside PoolSize, so the pool only serves mutes, rate
// limiting and publishes.
type RedisOptions struct {
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	IOTimeout    time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		PoolSize:     20,
		MinIdleConns: 3,
		DialTimeout:  5 * time.Second,
		IOTimeout:    3 * time.Second,
	}
}

type RedisDB struct {
	Client *redis.Client
}

var (
	newRedisClient = redis.NewClient
	redisPing      = func(ctx context.Context, client *redis.Client) error { return client.Ping(ctx).Err() }
)

func NewRedisDB(ctx context.Context, addr string, opts RedisOptions) (*RedisDB, error) {
	defaults := DefaultRedisOptions()
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaults.PoolSize
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaults.IOTimeout
	}

	client := newRedisClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.IOTimeout,
		WriteTimeout: opts.IOTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := redisPing(pingCtx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return &RedisDB{Client: client}, nil
}

func (r *RedisDB) Close() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *RedisDB) Health(ctx context.Context) error {
	if r.Client == nil {
		return errors.New("redis client not initialized")
	}
	return redisPing(ctx, r.Client)
}
