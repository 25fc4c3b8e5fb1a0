package cache

import (
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
)

// CachedAnalysis is an analysis stored against a library version and text
type CachedAnalysis struct {
	Version  string        `json:"version"`
	Analysis bias.Analysis `json:"analysis"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      int64         `json:"ttl"`
}

// LookupResult represents a cache lookup result
type LookupResult struct {
	Entry    *CachedAnalysis `json:"entry"`
	CacheHit bool            `json:"cache_hit"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
