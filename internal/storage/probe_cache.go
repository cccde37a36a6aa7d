// Package storage provides the optional Redis-backed cache for existence
// probe results.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
	"github.com/redis/go-redis/v9"
)

// probeKeyPrefix namespaces probe cache entries
const probeKeyPrefix = "probe:exists:"

// ProbeCache caches existence probe verdicts in Redis so reclaimed
// identifiers do not re-hit the API service.
type ProbeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewProbeCache connects to Redis and returns a probe cache. The connection
// is verified with a ping.
func NewProbeCache(cfg *config.RedisConfig, logger *logging.Logger) (*ProbeCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.ProbeCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ProbeCache{client: client, ttl: ttl, logger: logger}, nil
}

// Close closes the Redis connection
func (c *ProbeCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// key builds the cache key for one identifier
func (c *ProbeCache) key(steamID string) string {
	return probeKeyPrefix + steamID
}

// Get returns a cached probe result. A miss or any Redis error reports
// not-found so the caller falls through to the live probe.
func (c *ProbeCache) Get(ctx context.Context, steamID string) (types.ProbeResult, bool) {
	data, err := c.client.Get(ctx, c.key(steamID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Probe cache read failed")
		}
		return types.ProbeResult{}, false
	}

	var result types.ProbeResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.WithError(err).Warn("Dropping malformed probe cache entry")
		_ = c.client.Del(ctx, c.key(steamID)).Err()
		return types.ProbeResult{}, false
	}
	return result, true
}

// Set caches a probe result for the configured TTL. Failures are logged
// and otherwise ignored; the cache is an optimization, not a store.
func (c *ProbeCache) Set(ctx context.Context, steamID string, result types.ProbeResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode probe cache entry")
		return
	}

	if err := c.client.Set(ctx, c.key(steamID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Probe cache write failed")
	}
}
