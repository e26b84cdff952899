package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Run("Should pass validation", func(t *testing.T) {
		assert.NoError(t, Validate(Default()))
	})

	t.Run("Should size both cache tiers", func(t *testing.T) {
		cfg := Default()
		assert.Positive(t, cfg.Cache.DefaultEntries)
		assert.Positive(t, cfg.Cache.SmallEntries)
		assert.Equal(t, 64, cfg.PreviewSize)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"negative workers": func(c *Config) { c.WorkerCount = -1 },
		"negative queue":   func(c *Config) { c.QueueSize = -1 },
		"negative retries": func(c *Config) { c.MaxRetries = -1 },
		"quality too high": func(c *Config) { c.DefaultQuality = 101 },
		"zero chunk":       func(c *Config) { c.ChunkSize = 0 },
		"empty cache tier": func(c *Config) { c.Cache.SmallEntries = 0 },
		"bad log level":    func(c *Config) { c.LogLevel = "loud" },
		"bad log format":   func(c *Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("Should return defaults without overrides", func(t *testing.T) {
		cfg, err := FromEnv("IMAGELOADER_TEST_NONE_")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("Should apply overrides", func(t *testing.T) {
		t.Setenv("IMGTEST_WORKER_COUNT", "3")
		t.Setenv("IMGTEST_JOB_TIMEOUT", "2s")
		t.Setenv("IMGTEST_CACHE_SMALL_ENTRIES", "16")
		t.Setenv("IMGTEST_CACHE_REDIS_ADDR", "localhost:6379")
		t.Setenv("IMGTEST_HTTP_USER_AGENT", "probe/2")
		t.Setenv("IMGTEST_LOG_FORMAT", "json")
		t.Setenv("IMGTEST_UNKNOWN_KEY", "ignored")

		cfg, err := FromEnv("IMGTEST_")
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.WorkerCount)
		assert.Equal(t, 2*time.Second, cfg.JobTimeout)
		assert.Equal(t, 16, cfg.Cache.SmallEntries)
		assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
		assert.Equal(t, "probe/2", cfg.HTTP.UserAgent)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, Default().Cache.DefaultEntries, cfg.Cache.DefaultEntries)
	})

	t.Run("Should reject invalid overrides", func(t *testing.T) {
		t.Setenv("IMGTEST_DEFAULT_QUALITY", "0")
		_, err := FromEnv("IMGTEST_")
		assert.Error(t, err)
	})
}
