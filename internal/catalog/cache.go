package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const productKeyPrefix = "catalog:product:"

// Cache keeps product detail snapshots in Redis. A nil Cache or a zero TTL
// turns every call into a miss.
type Cache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCache(rdb redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.rdb != nil && c.ttl > 0
}

// Product returns the cached snapshot for id and whether it was present.
func (c *Cache) Product(ctx context.Context, id string) (Product, bool, error) {
	if !c.enabled() {
		return Product{}, false, nil
	}
	raw, err := c.rdb.Get(ctx, productKeyPrefix+id).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return Product{}, false, nil
	case err != nil:
		return Product{}, false, err
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		// Stale layout from an older build; treat as a miss.
		return Product{}, false, nil
	}
	return p, true, nil
}

func (c *Cache) PutProduct(ctx context.Context, p Product) error {
	if !c.enabled() || p.ID == "" {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, productKeyPrefix+p.ID, raw, c.ttl).Err()
}

// Evict drops the snapshots for the given product ids.
func (c *Cache) Evict(ctx context.Context, ids ...string) error {
	if c == nil || c.rdb == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKeyPrefix + id
	}
	return c.rdb.Del(ctx, keys...).Err()
}
