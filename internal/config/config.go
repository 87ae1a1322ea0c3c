package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "OGIMAGE_"

// Config is the service configuration. Values come from Default, then the YAML file, then the
// environment (a .env file in the working directory is loaded first if present).
type Config struct {
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxPageBytes   int64         `yaml:"max_page_bytes"`
	MaxImageBytes  int64         `yaml:"max_image_bytes"`
	MaxImagePixels int           `yaml:"max_image_pixels"`
	MaxRedirects   int           `yaml:"max_redirects"`
	UserAgent      string        `yaml:"user_agent"`
	DenyPrivateIPs bool          `yaml:"deny_private_ips"`

	JPEGQuality int     `yaml:"jpeg_quality"`
	WebPQuality float32 `yaml:"webp_quality"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`

	MetricsPath string `yaml:"metrics_path"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
}

type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func Default() Config {
	return Config{
		Addr:           ":8080",
		LogLevel:       "info",
		LogFormat:      "json",
		FetchTimeout:   10 * time.Second,
		MaxPageBytes:   5 << 20,
		MaxImageBytes:  20 << 20,
		MaxImagePixels: 40_000_000,
		MaxRedirects:   5,
		UserAgent:      "og-image-proxy/1.0 (+https://github.com/cheahjs/og-image-proxy)",
		DenyPrivateIPs: true,
		JPEGQuality:    85,
		WebPQuality:    80,
		RateLimit: RateLimitConfig{
			RPS:   0,
			Burst: 10,
		},
		Breaker: BreakerConfig{
			MaxRequests:      3,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      10,
		},
		Cache: CacheConfig{
			Enabled:         true,
			MaxEntries:      1000,
			DefaultTTL:      24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		MetricsPath: "/metrics",
	}
}

// Load builds the configuration. path may be empty, in which case only the environment is used.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.MaxPageBytes <= 0 || c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("max_page_bytes and max_image_bytes must be positive"))
	}
	if c.MaxRedirects < 0 {
		errs = append(errs, errors.New("max_redirects must not be negative"))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality must be within 1..100, got %d", c.JPEGQuality))
	}
	if c.WebPQuality < 0 || c.WebPQuality > 100 {
		errs = append(errs, fmt.Errorf("webp_quality must be within 0..100, got %v", c.WebPQuality))
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 1 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold must be within (0, 1], got %v", c.Breaker.FailureThreshold))
	}
	if c.Cache.Enabled {
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, errors.New("cache.max_entries must be positive when the cache is enabled"))
		}
		if c.Cache.CleanupInterval <= 0 {
			errs = append(errs, errors.New("cache.cleanup_interval must be positive when the cache is enabled"))
		}
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("metrics_path must start with /, got %q", c.MetricsPath))
	}
	return errors.Join(errs...)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	parse := func(name string, set func(string) error) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, v, err))
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}
	int64s := func(dst *int64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseInt(v, 10, 64)
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseBool(v)
			return err
		}
	}

	// PORT is what most hosting platforms hand us.
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Addr = ":" + port
	}
	str("ADDR", &cfg.Addr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("USER_AGENT", &cfg.UserAgent)
	str("METRICS_PATH", &cfg.MetricsPath)
	parse("FETCH_TIMEOUT", duration(&cfg.FetchTimeout))
	parse("MAX_PAGE_BYTES", int64s(&cfg.MaxPageBytes))
	parse("MAX_IMAGE_BYTES", int64s(&cfg.MaxImageBytes))
	parse("MAX_IMAGE_PIXELS", integer(&cfg.MaxImagePixels))
	parse("MAX_REDIRECTS", integer(&cfg.MaxRedirects))
	parse("DENY_PRIVATE_IPS", boolean(&cfg.DenyPrivateIPs))
	parse("JPEG_QUALITY", integer(&cfg.JPEGQuality))
	parse("WEBP_QUALITY", func(v string) error {
		q, err := strconv.ParseFloat(v, 32)
		cfg.WebPQuality = float32(q)
		return err
	})
	parse("RATE_LIMIT_RPS", func(v string) (err error) {
		cfg.RateLimit.RPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("RATE_LIMIT_BURST", integer(&cfg.RateLimit.Burst))
	parse("CACHE_ENABLED", boolean(&cfg.Cache.Enabled))
	parse("CACHE_MAX_ENTRIES", integer(&cfg.Cache.MaxEntries))
	parse("CACHE_DEFAULT_TTL", duration(&cfg.Cache.DefaultTTL))
	parse("CACHE_CLEANUP_INTERVAL", duration(&cfg.Cache.CleanupInterval))

	return errors.Join(errs...)
}
