package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"eventscatalog/internal/catalog"
	"eventscatalog/internal/msevents"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr           string        `yaml:"addr"`            // :8080
	RateLimit      float64       `yaml:"rate_limit"`      // inbound requests per second
	RateBurst      int           `yaml:"rate_burst"`      // token bucket burst
	RequestTimeout time.Duration `yaml:"request_timeout"` // per request, includes a cold fetch
}

type APIConfig struct {
	URL           string        `yaml:"url"`
	UserAgent     string        `yaml:"user_agent"`
	PageSize      int           `yaml:"page_size"` // default 100
	MaxPages      int           `yaml:"max_pages"` // default 20
	Timeout       time.Duration `yaml:"timeout"`   // per upstream request
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`     // initial backoff, doubles per retry
	MaxBackoff    time.Duration `yaml:"max_backoff"` // cap
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

type CacheConfig struct {
	MaxLocales int `yaml:"max_locales"` // negative disables the cap
}

type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

type Config struct {
	Server        ServerConfig  `yaml:"server"`
	API           APIConfig     `yaml:"api"`
	Breaker       BreakerConfig `yaml:"breaker"`
	Cache         CacheConfig   `yaml:"cache"`
	DefaultLocale string        `yaml:"default_locale"`
	Log           LogConfig     `yaml:"log"`
}

// Load reads path when it is set, applies environment overrides and fills
// defaults. An empty path yields a config built from the environment alone.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.RateLimit = getEnvFloat("RATE_LIMIT", c.Server.RateLimit)
	c.Server.RateBurst = getEnvInt("RATE_BURST", c.Server.RateBurst)
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.API.URL = getEnv("EVENTS_API_URL", c.API.URL)
	c.API.PageSize = getEnvInt("EVENTS_PAGE_SIZE", c.API.PageSize)
	c.API.MaxPages = getEnvInt("EVENTS_MAX_PAGES", c.API.MaxPages)
	c.API.Timeout = getEnvDuration("EVENTS_API_TIMEOUT", c.API.Timeout)
	c.API.MaxRetries = getEnvInt("EVENTS_MAX_RETRIES", c.API.MaxRetries)
	c.API.Backoff = getEnvDuration("EVENTS_BACKOFF", c.API.Backoff)
	c.API.RatePerSecond = getEnvFloat("EVENTS_RATE_PER_SECOND", c.API.RatePerSecond)

	c.Breaker.MaxRequests = uint32(getEnvInt("CB_MAX_REQUESTS", int(c.Breaker.MaxRequests)))
	c.Breaker.Interval = getEnvDuration("CB_INTERVAL", c.Breaker.Interval)
	c.Breaker.Timeout = getEnvDuration("CB_TIMEOUT", c.Breaker.Timeout)
	c.Breaker.ConsecutiveFailures = uint32(getEnvInt("CB_CONSECUTIVE_FAILURES", int(c.Breaker.ConsecutiveFailures)))

	c.Cache.MaxLocales = getEnvInt("CACHE_MAX_LOCALES", c.Cache.MaxLocales)
	c.DefaultLocale = getEnv("DEFAULT_LOCALE", c.DefaultLocale)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 10
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 90 * time.Second
	}
	if c.API.URL == "" {
		c.API.URL = msevents.DefaultURL
	}
	if c.API.PageSize <= 0 {
		c.API.PageSize = 100
	}
	if c.API.MaxPages <= 0 {
		c.API.MaxPages = 20
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 60 * time.Second
	}
	if c.API.MaxRetries <= 0 {
		c.API.MaxRetries = 3
	}
	if c.API.Backoff <= 0 {
		c.API.Backoff = 2 * time.Second
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = 60 * time.Second
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 3
	}
	if c.Cache.MaxLocales == 0 {
		c.Cache.MaxLocales = 64
	}
	c.DefaultLocale = catalog.NormalizeLocale(c.DefaultLocale)
	if c.DefaultLocale == "" {
		c.DefaultLocale = catalog.DefaultLocale
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c Config) Validate() error {
	if c.API.PageSize > 1000 {
		return fmt.Errorf("api.page_size %d exceeds 1000", c.API.PageSize)
	}
	if !strings.HasPrefix(c.API.URL, "http://") && !strings.HasPrefix(c.API.URL, "https://") {
		return fmt.Errorf("api.url %q is not an http(s) url", c.API.URL)
	}
	return nil
}

// MaxLocales is the cache cap, 0 meaning unbounded.
func (c Config) MaxLocales() int {
	if c.Cache.MaxLocales < 0 {
		return 0
	}
	return c.Cache.MaxLocales
}

// Fetcher converts the api and breaker sections into client settings.
func (c Config) Fetcher() msevents.Config {
	return msevents.Config{
		URL:           c.API.URL,
		UserAgent:     c.API.UserAgent,
		PageSize:      c.API.PageSize,
		MaxPages:      c.API.MaxPages,
		Timeout:       c.API.Timeout,
		MaxRetries:    c.API.MaxRetries,
		Backoff:       c.API.Backoff,
		MaxBackoff:    c.API.MaxBackoff,
		RatePerSecond: c.API.RatePerSecond,
		Burst:         c.API.Burst,
		Breaker: msevents.BreakerConfig{
			MaxRequests:         c.Breaker.MaxRequests,
			Interval:            c.Breaker.Interval,
			Timeout:             c.Breaker.Timeout,
			ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
		},
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
