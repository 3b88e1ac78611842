// Package redis implements the session/counter store and the notification
// bus on top of go-redis. Every key and channel is namespaced with Prefix so
// several deployments can share one Redis database.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key does not exist.
var ErrMiss = errors.New("cache: key not found")

const pingTimeout = 5 * time.Second

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type namespaced struct {
	client *goredis.Client
	prefix string
}

func (n namespaced) key(k string) string { return n.prefix + k }

func (n namespaced) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = n.prefix + k
	}
	return out
}

func connect(cfg Config) (namespaced, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return namespaced{}, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return namespaced{client: client, prefix: cfg.Prefix}, nil
}

// RedisCache stores sessions, ban markers and cached counters.
type RedisCache struct {
	namespaced
}

// NewCache connects to Redis and verifies the connection with PING.
func NewCache(cfg Config) (*RedisCache, error) {
	ns, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{ns}, nil
}

func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, r.keys(keys)...).Err()
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.key(key)).Result()
}

// RedisMessage is a notification-bus message with the prefix stripped from
// its channel.
type RedisMessage struct {
	Channel string
	Payload string
}

// RedisPubSub carries live notifications between server instances.
type RedisPubSub struct {
	namespaced
}

// NewPubSub connects a dedicated client for pub/sub traffic.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	ns, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPubSub{ns}, nil
}

func (r *RedisPubSub) Close() error { return r.client.Close() }

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, r.key(channel), message).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so a
// notification published right after the call reaches the subscriber.
func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	ps := r.client.Subscribe(ctx, r.keys(channels)...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}
	out := make(chan *RedisMessage, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- &RedisMessage{Channel: msg.Channel[len(r.prefix):], Payload: msg.Payload}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}
