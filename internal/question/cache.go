package question

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gokatarajesh/codeduel/internal/game"
)

const (
	defaultCacheTTL = time.Minute
	activePoolKey   = "questions:active"
)

// Cache keeps the active pool and individual questions in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ PoolCache = (*Cache)(nil)

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func questionKey(id string) string {
	return "question:" + id
}

func (c *Cache) GetPool(ctx context.Context) ([]game.Question, error) {
	var pool []game.Question
	ok, err := c.get(ctx, activePoolKey, &pool)
	if !ok {
		return nil, err
	}
	return pool, nil
}

func (c *Cache) SetPool(ctx context.Context, pool []game.Question) error {
	return c.set(ctx, activePoolKey, pool)
}

func (c *Cache) GetQuestion(ctx context.Context, id string) (*game.Question, error) {
	var q game.Question
	ok, err := c.get(ctx, questionKey(id), &q)
	if !ok {
		return nil, err
	}
	return &q, nil
}

func (c *Cache) SetQuestion(ctx context.Context, q game.Question) error {
	return c.set(ctx, questionKey(q.ID), q)
}

func (c *Cache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}
