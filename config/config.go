package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the default prefix for environment overrides.
const EnvPrefix = "IMAGELOADER_"

// Config is the top-level configuration struct. All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `koanf:"worker_count"` // default: runtime.NumCPU()
	QueueSize   int           `koanf:"queue_size"`   // max queued fetches before rejection; default: 256
	JobTimeout  time.Duration `koanf:"job_timeout"`

	// Retry of transient fetch failures.
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`

	// Encode quality used by the CLI when writing decoded bitmaps.
	DefaultQuality int `koanf:"default_quality"` // 1-100; default 85

	// Streaming / memory limits.
	MaxImageBytes   int64 `koanf:"max_image_bytes"`   // 0 = no limit
	ChunkSize       int   `koanf:"chunk_size"`        // streaming chunk size in bytes; default 32 KiB
	MaxBitmapPixels int   `koanf:"max_bitmap_pixels"` // largest bitmap kept for reuse; 0 = no cap

	// PreviewSize bounds the intermediate preview of progressive requests.
	PreviewSize int `koanf:"preview_size"`

	Cache    CacheConfig    `koanf:"cache"`
	HTTP     HTTPConfig     `koanf:"http"`
	Download DownloadConfig `koanf:"download"`

	// Logging.
	LogLevel  string `koanf:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `koanf:"log_format"` // "text" or "json"
}

// CacheConfig sizes the encoded-bytes cache tiers.
type CacheConfig struct {
	DefaultEntries int `koanf:"default_entries"`
	SmallEntries   int `koanf:"small_entries"`

	// Optional shared cache behind the in-process tiers.
	RedisAddr   string        `koanf:"redis_addr"`
	RedisPrefix string        `koanf:"redis_prefix"`
	RedisTTL    time.Duration `koanf:"redis_ttl"`
}

// HTTPConfig configures network fetches.
type HTTPConfig struct {
	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`
}

// DownloadConfig configures where downloads land.
type DownloadConfig struct {
	RootDir     string `koanf:"root_dir"`
	Permissions uint32 `koanf:"permissions"` // default 0644
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:     0, // resolved at runtime to NumCPU
		QueueSize:       256,
		JobTimeout:      30 * time.Second,
		MaxRetries:      3,
		RetryDelay:      200 * time.Millisecond,
		DefaultQuality:  85,
		MaxImageBytes:   50 << 20,
		ChunkSize:       32 * 1024,
		MaxBitmapPixels: 4096 * 4096,
		PreviewSize:     64,
		Cache: CacheConfig{
			DefaultEntries: 128,
			SmallEntries:   512,
			RedisPrefix:    "imageloader:",
			RedisTTL:       time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:   15 * time.Second,
			UserAgent: "imageloader/1.0",
		},
		Download: DownloadConfig{
			Permissions: 0o644,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	var errs []error
	if c.WorkerCount < 0 {
		errs = append(errs, errors.New("config: WorkerCount must not be negative"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("config: QueueSize must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("config: MaxRetries must not be negative"))
	}
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		errs = append(errs, errors.New("config: DefaultQuality must be between 1 and 100"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("config: ChunkSize must be positive"))
	}
	if c.Cache.DefaultEntries <= 0 || c.Cache.SmallEntries <= 0 {
		errs = append(errs, errors.New("config: cache tiers need at least one entry"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown LogLevel %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown LogFormat %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// FromEnv returns Default() overridden by environment variables named after
// the koanf keys: prefix + upper-cased key with dots as underscores, e.g.
// IMAGELOADER_CACHE_SMALL_ENTRIES. Durations accept time.ParseDuration syntax.
func FromEnv(prefix string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	known := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		known[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: prefix,
		TransformFunc: func(name, value string) (string, any) {
			key, ok := known[strings.TrimPrefix(name, prefix)]
			if !ok {
				return "", nil
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
