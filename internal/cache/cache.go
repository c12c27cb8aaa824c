// Package cache keeps short lived comment counts so the public count
// endpoint does not hit the backend on every page view.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL matches the s-maxage the count endpoint advertises.
const DefaultTTL = 60 * time.Second

var ErrMiss = errors.New("cache miss")

type CountCache interface {
	Get(ctx context.Context, key string) (int, error)
	Set(ctx context.Context, key string, count int) error
}

// RedisCountCache stores counts as plain integers with an expiry.
type RedisCountCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCountCache(redisURL string, ttl time.Duration) (*RedisCountCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCountCache{client: client, prefix: "count:", ttl: ttl}, nil
}

func (c *RedisCountCache) Get(ctx context.Context, key string) (int, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("redis value for %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisCountCache) Set(ctx context.Context, key string, count int) error {
	if err := c.client.Set(ctx, c.prefix+key, count, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCountCache) Close() error {
	return c.client.Close()
}

type lruItem struct {
	count     int
	expiresAt time.Time
}

// LRUCountCache is the in-process fallback when no Redis is configured.
type LRUCountCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, lruItem]
	ttl time.Duration
	now func() time.Time
}

func NewLRUCountCache(size int, ttl time.Duration) (*LRUCountCache, error) {
	l, err := lru.New[string, lruItem](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCountCache{lru: l, ttl: ttl, now: time.Now}, nil
}

func (c *LRUCountCache) Get(_ context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lru.Get(key)
	if !ok {
		return 0, ErrMiss
	}
	if c.now().After(item.expiresAt) {
		c.lru.Remove(key)
		return 0, ErrMiss
	}
	return item.count, nil
}

func (c *LRUCountCache) Set(_ context.Context, key string, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, lruItem{count: count, expiresAt: c.now().Add(c.ttl)})
	return nil
}
