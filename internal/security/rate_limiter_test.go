package security

import (
	"testing"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}

	t.Run("BurstThenDeny", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		rl := NewRateLimiter(cfg)
		rl.now = func() time.Time { return now }

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))

		// other clients have their own bucket
		assert.True(t, rl.Allow("10.0.0.2"))

		// one token per second refills
		now = now.Add(time.Second)
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
	})

	t.Run("Disabled", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, Burst: 1})
		for i := 0; i < 10; i++ {
			assert.True(t, rl.Allow("10.0.0.1"))
		}
		assert.Equal(t, 0, rl.Clients())
	})

	t.Run("CleanupIdle", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		rl := NewRateLimiter(cfg)
		rl.now = func() time.Time { return now }

		rl.Allow("10.0.0.1")
		now = now.Add(30 * time.Minute)
		rl.Allow("10.0.0.2")
		now = now.Add(45 * time.Minute)

		assert.Equal(t, 1, rl.CleanupIdle())
		assert.Equal(t, 1, rl.Clients())
	})

	t.Run("Reconfigure", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		rl := NewRateLimiter(cfg)
		rl.now = func() time.Time { return now }

		rl.Allow("10.0.0.1")
		rl.Allow("10.0.0.1")
		assert.False(t, rl.Allow("10.0.0.1"))

		rl.Reconfigure(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 5})
		assert.Equal(t, 0, rl.Clients())
		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow("10.0.0.1"))
		}
		assert.False(t, rl.Allow("10.0.0.1"))

		rl.Reconfigure(config.RateLimitConfig{Enabled: false})
		assert.True(t, rl.Allow("10.0.0.1"))
	})
}
