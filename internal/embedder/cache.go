package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookmind/bookmind/config"
)

// QueryCache stores query embeddings in Redis under a short TTL so repeated
// identical queries skip the provider round-trip. It is read-mostly: the query
// path shares it without locking.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewQueryCache connects to Redis and verifies the connection. Returns nil
// without error when the cache is not configured.
func NewQueryCache(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, logger *log.Logger) (*QueryCache, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{client: client, ttl: ttl, logger: logger}, nil
}

// Get returns the cached vector for the query, if present and decodable.
func (c *QueryCache) Get(ctx context.Context, model, query string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(model, query)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("warn: cache get failed: %v", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.logger.Printf("warn: cache entry corrupt, dropping: %v", err)
		_ = c.client.Del(ctx, cacheKey(model, query)).Err()
		return nil, false
	}
	return vec, true
}

// Put stores the vector under the cache TTL. Failures are logged, not returned.
func (c *QueryCache) Put(ctx context.Context, model, query string, vec []float32) {
	if c == nil || len(vec) == 0 {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(model, query), raw, c.ttl).Err(); err != nil {
		c.logger.Printf("warn: cache set failed: %v", err)
	}
}

// Close releases the underlying Redis connection.
func (c *QueryCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func cacheKey(model, query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("bookmind:qemb:%s:%s", model, hex.EncodeToString(sum[:]))
}
