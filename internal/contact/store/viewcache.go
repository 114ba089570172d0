package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"contactlink/internal/contact/models"
	"contactlink/pkg/platform/sentinel"
)

// RedisViewCache caches built cluster views keyed by primary contact ID.
// It is strictly an optimization for repeat submissions that change nothing;
// every mutation path invalidates the involved clusters first.
type RedisViewCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisViewCache constructs a view cache with the given TTL.
func NewRedisViewCache(client *goredis.Client, ttl time.Duration) *RedisViewCache {
	return &RedisViewCache{client: client, ttl: ttl}
}

func viewKey(id models.ContactID) string {
	return fmt.Sprintf("contactlink:view:%d", id)
}

// Get returns the cached view for a primary, or sentinel.ErrNotFound on miss.
func (c *RedisViewCache) Get(ctx context.Context, id models.ContactID) (*models.ClusterView, error) {
	raw, err := c.client.Get(ctx, viewKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("cluster view %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get cluster view from cache: %w", err)
	}
	var view models.ClusterView
	if err := json.Unmarshal(raw, &view); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, fmt.Errorf("cluster view %d: %w", id, sentinel.ErrNotFound)
	}
	return &view, nil
}

// Set stores a built view under its primary's key.
func (c *RedisViewCache) Set(ctx context.Context, view *models.ClusterView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal cluster view: %w", err)
	}
	if err := c.client.Set(ctx, viewKey(view.PrimaryContactID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cluster view in cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached views of the given primaries.
func (c *RedisViewCache) Invalidate(ctx context.Context, ids ...models.ContactID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = viewKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cluster views: %w", err)
	}
	return nil
}
