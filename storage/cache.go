package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
)

type backend interface {
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error)
	Insert(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateByID(ctx context.Context, id string, patch domain.TaskPatch, upsert bool) (*domain.Task, error)
	DeleteByID(ctx context.Context, id string) (*domain.Task, error)
	BulkUpdate(ctx context.Context, ops []domain.OrderUpdate) error
}

// Cache wraps a Storage instance with Redis-backed caching of per-owner task
// lists. Every mutation delegates to the backing store and then evicts the
// affected owner's cached list. Redis failures degrade to the backing store
// and never fail the request.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if tasks, ok := c.loadFromCache(ctx, ownerID); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, ownerID, tasks)
	return tasks, nil
}

func (c *Cache) Insert(ctx context.Context, t domain.Task) (domain.Task, error) {
	created, err := c.base.Insert(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, created.OwnerID)
	return created, nil
}

func (c *Cache) UpdateByID(ctx context.Context, id string, patch domain.TaskPatch, upsert bool) (*domain.Task, error) {
	updated, err := c.base.UpdateByID(ctx, id, patch, upsert)
	if err != nil || updated == nil {
		return updated, err
	}
	c.evict(ctx, updated.OwnerID)
	if patch.OwnerID != nil && *patch.OwnerID != updated.OwnerID {
		c.evict(ctx, *patch.OwnerID)
	}
	return updated, nil
}

func (c *Cache) DeleteByID(ctx context.Context, id string) (*domain.Task, error) {
	removed, err := c.base.DeleteByID(ctx, id)
	if err != nil || removed == nil {
		return removed, err
	}
	c.evict(ctx, removed.OwnerID)
	return removed, nil
}

func (c *Cache) BulkUpdate(ctx context.Context, ops []domain.OrderUpdate) error {
	err := c.base.BulkUpdate(ctx, ops)
	if err != nil {
		// Partial application still dirtied the cached lists.
		var partial *domain.PartialBatchError
		if !errors.As(err, &partial) {
			return err
		}
	}
	seen := map[string]struct{}{}
	for _, op := range ops {
		if _, ok := seen[op.OwnerID]; ok {
			continue
		}
		seen[op.OwnerID] = struct{}{}
		c.evict(ctx, op.OwnerID)
	}
	return err
}

func (c *Cache) loadFromCache(ctx context.Context, ownerID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, ownerID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(ownerID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Result()
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}
