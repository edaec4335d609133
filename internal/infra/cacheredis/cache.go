// Package cacheredis backs the trust gate's decision cache with redis
// so that several engine replicas share one idempotent decision view.
package cacheredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chimera/internal/domain"
)

const keyPrefix = "chimera:decision:"

type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Cache, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.AuthorizationDecision, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var decision domain.AuthorizationDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, false, fmt.Errorf("decode cached decision: %w", err)
	}
	return &decision, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, decision domain.AuthorizationDecision, ttl time.Duration) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, raw, ttl).Err()
}
