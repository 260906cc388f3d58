// Package cache keeps page snapshots (the block list plus the entities it
// references) in Redis between saves.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hash/api/internal/entity"
)

// Snapshot is what the editor needs to diff a page.
type Snapshot struct {
	Page     entity.Page  `json:"page"`
	Entities entity.Store `json:"entities"`
	CachedAt time.Time    `json:"cachedAt"`
}

// SnapshotCache implements page snapshot caching using Redis.
type SnapshotCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache connects to redisURL and verifies the connection.
func NewSnapshotCache(redisURL string, ttl time.Duration) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewSnapshotCacheWithClient(client, ttl), nil
}

// NewSnapshotCacheWithClient creates a cache from an existing Redis client.
func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SnapshotCache{
		client: client,
		prefix: "page:",
		ttl:    ttl,
	}
}

func (c *SnapshotCache) key(accountID, pageID string) string {
	return c.prefix + accountID + ":" + pageID
}

// Get returns the cached snapshot, or nil on a miss.
func (c *SnapshotCache) Get(ctx context.Context, accountID, pageID string) (*Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(accountID, pageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal page snapshot: %w", err)
	}
	return &snapshot, nil
}

func (c *SnapshotCache) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.CachedAt.IsZero() {
		snapshot.CachedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal page snapshot: %w", err)
	}
	key := c.key(snapshot.Page.AccountID, snapshot.Page.EntityID)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("save page snapshot: %w", err)
	}
	return nil
}

// Load returns the cached snapshot or builds it with fetch and caches it.
func (c *SnapshotCache) Load(ctx context.Context, accountID, pageID string, fetch func(context.Context) (Snapshot, error)) (Snapshot, error) {
	cached, err := c.Get(ctx, accountID, pageID)
	if err == nil && cached != nil {
		return *cached, nil
	}

	snapshot, err := fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := c.Put(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// Refetch drops the cached snapshot so the next Load reads the stored page.
func (c *SnapshotCache) Refetch(ctx context.Context, accountID, pageID string) error {
	if err := c.client.Del(ctx, c.key(accountID, pageID)).Err(); err != nil {
		return fmt.Errorf("invalidate page snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
