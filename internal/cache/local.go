package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalConfig sizes an in-process cache.
type LocalConfig struct {
	MaxSizeMB   int
	CounterSize int // keys tracked for admission, about 10x the expected item count
}

// DefaultLocalConfig returns settings suitable for a single API instance.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{MaxSizeMB: 32, CounterSize: 100_000}
}

// LocalCache is an in-process cache used when no Redis is configured.
// Values are stored JSON-encoded so callers get independent copies.
type LocalCache struct {
	client *ristretto.Cache
}

// NewLocalCache creates a LocalCache.
func NewLocalCache(cfg LocalConfig) (*LocalCache, error) {
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.CounterSize),
		MaxCost:     int64(cfg.MaxSizeMB) * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &LocalCache{client: client}, nil
}

// Get decodes the value stored at key into dst.
func (c *LocalCache) Get(_ context.Context, key string, dst any) (bool, error) {
	v, ok := c.client.Get(key)
	if !ok {
		return false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at key for ttl. The cost of an entry is its encoded size.
func (c *LocalCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	c.client.SetWithTTL(key, b, int64(len(b)), ttl)
	// Sets are buffered; wait so the next Get observes this one.
	c.client.Wait()
	return nil
}

// Close releases the cache's goroutines.
func (c *LocalCache) Close() {
	c.client.Close()
}
