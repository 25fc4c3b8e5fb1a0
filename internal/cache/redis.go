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
	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/config"
	"go.uber.org/zap"
)

// AnalysisCache memoizes analyses in Redis, keyed by term library version
// and a hash of the text. Feedback text itself is never stored.
type AnalysisCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewAnalysisCache creates a Redis-backed analysis cache
func NewAnalysisCache(cfg config.CacheConfig, logger *zap.Logger) (*AnalysisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	cache := NewAnalysisCacheFromClient(redis.NewClient(opts), cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Analysis cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

// NewAnalysisCacheFromClient wraps an existing Redis client
func NewAnalysisCacheFromClient(client *redis.Client, cfg config.CacheConfig, logger *zap.Logger) *AnalysisCache {
	return &AnalysisCache{
		client: client,
		config: cfg,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (ac *AnalysisCache) Ping(ctx context.Context) error {
	return ac.client.Ping(ctx).Err()
}

// Get looks up the analysis of text under the given library version.
// Redis failures are logged and reported as misses.
func (ac *AnalysisCache) Get(ctx context.Context, version, text string) *LookupResult {
	key := ac.Key(version, text)

	data, err := ac.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		ac.misses.Add(1)
		return &LookupResult{CacheHit: false}
	} else if err != nil {
		ac.misses.Add(1)
		ac.logger.Warn("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}
	}

	var entry CachedAnalysis
	if err := json.Unmarshal(data, &entry); err != nil || entry.Version != version {
		ac.misses.Add(1)
		ac.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		ac.client.Del(ctx, key)
		return &LookupResult{CacheHit: false}
	}

	ac.hits.Add(1)
	ac.logger.Debug("Cache hit", zap.String("key", key))
	return &LookupResult{Entry: &entry, CacheHit: true}
}

// Store caches the analysis of text under the given library version
func (ac *AnalysisCache) Store(ctx context.Context, version, text string, analysis bias.Analysis) error {
	key := ac.Key(version, text)

	entry := CachedAnalysis{
		Version:  version,
		Analysis: analysis,
		CachedAt: time.Now(),
		TTL:      int64(ac.config.DefaultTTL.Seconds()),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis for caching: %w", err)
	}

	if err := ac.client.Set(ctx, key, data, ac.config.DefaultTTL).Err(); err != nil {
		ac.logger.Warn("Failed to cache analysis", zap.Error(err))
		return fmt.Errorf("failed to cache analysis: %w", err)
	}

	ac.logger.Debug("Analysis cached",
		zap.String("key", key),
		zap.Int("total_flags", analysis.TotalFlags))

	return nil
}

// GetStats returns cache performance statistics
func (ac *AnalysisCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := ac.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   ac.hits.Load(),
		Misses: ac.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := ac.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached analyses
func (ac *AnalysisCache) Clear(ctx context.Context) error {
	pattern := ac.config.KeyPrefix + ":analysis:*"

	iter := ac.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := ac.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	ac.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (ac *AnalysisCache) Close() error {
	if ac.client != nil {
		return ac.client.Close()
	}
	return nil
}

// Key builds the cache key for a library version and text
func (ac *AnalysisCache) Key(version, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:analysis:%s:%s", ac.config.KeyPrefix, version, hex.EncodeToString(sum[:16]))
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
