package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/scanner"
	"go.uber.org/zap"
)

// VerdictCache stores file scan verdicts in Redis. Keys are derived from
// the file identity and a digest of the rule sources, so processes sharing
// one Redis only share verdicts when their rules are identical.
type VerdictCache struct {
	client *redis.Client
	config *Config
	logger *logger.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

var _ scanner.VerdictCache = (*VerdictCache)(nil)

// NewVerdictCache connects to Redis and verifies the connection
func NewVerdictCache(config *Config, log *logger.Logger) (*VerdictCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	if log == nil {
		log = logger.NewNop()
	}

	vc := &VerdictCache{
		client: redis.NewClient(opts),
		config: config,
		logger: log.WithComponent("cache"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := vc.client.Ping(ctx).Err(); err != nil {
		vc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	vc.logger.Info("Verdict cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return vc, nil
}

// Get returns the cached verdict for key
func (vc *VerdictCache) Get(ctx context.Context, key string) (bool, bool, error) {
	cacheKey := vc.generateKey(key)

	data, err := vc.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		vc.misses.Add(1)
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var cached CachedVerdict
	if err := json.Unmarshal(data, &cached); err != nil {
		vc.logger.Warn("Dropping corrupted cache entry", zap.String("key", cacheKey), zap.Error(err))
		vc.client.Del(ctx, cacheKey)
		vc.misses.Add(1)
		return false, false, nil
	}

	vc.hits.Add(1)
	vc.logger.Debug("Cache hit", zap.String("key", cacheKey))
	return cached.ContainsPII, true, nil
}

// Set stores a verdict under key for the configured TTL
func (vc *VerdictCache) Set(ctx context.Context, key string, containsPII bool) error {
	cacheKey := vc.generateKey(key)

	data, err := json.Marshal(CachedVerdict{
		ContainsPII: containsPII,
		CachedAt:    time.Now(),
		TTL:         int64(vc.config.DefaultTTL.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	if err := vc.client.Set(ctx, cacheKey, data, vc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache verdict: %w", err)
	}

	vc.logger.Debug("Verdict cached", zap.String("key", cacheKey), zap.Bool("contains_pii", containsPII))
	return nil
}

// GetStats returns cache performance statistics
func (vc *VerdictCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   vc.hits.Load(),
		Misses: vc.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	keys, err := vc.client.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis key count: %w", err)
	}
	stats.TotalKeys = keys

	// Not every Redis-compatible server reports memory
	if info, err := vc.client.Info(ctx, "memory").Result(); err == nil {
		for _, line := range strings.Split(info, "\r\n") {
			if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	return stats, nil
}

// Clear removes every verdict under the key prefix
func (vc *VerdictCache) Clear(ctx context.Context) error {
	iter := vc.client.Scan(ctx, 0, vc.config.KeyPrefix+":verdict:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VerdictCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

// generateKey hashes the scanner key so file paths never reach Redis
func (vc *VerdictCache) generateKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:verdict:%s", vc.config.KeyPrefix, hex.EncodeToString(sum[:])[:32])
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
