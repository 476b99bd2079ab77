// Package config loads exporter settings from defaults, an optional YAML file,
// a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mcf-jobs-export/pkg/client"
	"github.com/Sternrassler/mcf-jobs-export/pkg/logging"
	"github.com/Sternrassler/mcf-jobs-export/pkg/pagination"
	"github.com/Sternrassler/mcf-jobs-export/pkg/ratelimit"
	"github.com/Sternrassler/mcf-jobs-export/pkg/tabular"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v2"
)

// DefaultEnvFile is read when present; variables already set in the environment win.
const DefaultEnvFile = ".env"

type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	PageSize  int    `yaml:"page_size"`
	UserAgent string `yaml:"user_agent"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ThrottleConfig struct {
	// IntervalMS is the minimum spacing between request starts; 0 disables throttling.
	IntervalMS int `yaml:"interval_ms"`
}

type RetryConfig struct {
	Attempts         int `yaml:"attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

type BreakerConfig struct {
	// Threshold of consecutive transient failures; 0 disables the breaker.
	Threshold  int `yaml:"threshold"`
	CooldownMS int `yaml:"cooldown_ms"`
}

type FetchConfig struct {
	PageTimeoutMS int `yaml:"page_timeout_ms"`
	DeadlineMS    int `yaml:"deadline_ms"`
}

type OutputConfig struct {
	Path    string `yaml:"path"`
	DataDir string `yaml:"data_dir"`
	Columns string `yaml:"columns"`
	Missing string `yaml:"missing"`
	Extra   string `yaml:"extra"`
}

type CacheConfig struct {
	// RedisURL enables the page cache, e.g. redis://localhost:6379/0
	RedisURL string `yaml:"redis_url"`
	TTLMS    int    `yaml:"ttl_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the complete exporter configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Output   OutputConfig   `yaml:"output"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   client.DefaultBaseURL,
			PageSize:  pagination.DefaultPageSize,
			UserAgent: client.DefaultUserAgent,
			TimeoutMS: 30000,
		},
		Throttle: ThrottleConfig{IntervalMS: int(ratelimit.DefaultInterval / time.Millisecond)},
		Retry: RetryConfig{
			Attempts:         3,
			InitialBackoffMS: 1000,
			MaxBackoffMS:     30000,
		},
		Breaker: BreakerConfig{
			Threshold:  5,
			CooldownMS: 30000,
		},
		Output: OutputConfig{
			Path:    "mcf_jobs.csv",
			DataDir: "data",
			Columns: string(tabular.ColumnsUnion),
			Missing: string(tabular.MissingBlank),
			Extra:   string(tabular.ExtraDrop),
		},
		Cache: CacheConfig{TTLMS: 300000},
		Log:   LogConfig{Level: string(logging.LevelInfo)},
	}
}

// Load builds the configuration. path names an optional YAML file ("" skips it).
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DefaultEnvFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file onto cfg; keys absent from the file keep their value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() error {
	var errs []error

	c.API.BaseURL = getEnv("MCF_BASE_URL", c.API.BaseURL)
	c.API.PageSize = getIntEnv("MCF_PAGE_SIZE", c.API.PageSize, &errs)
	c.API.UserAgent = getEnv("MCF_USER_AGENT", c.API.UserAgent)
	c.API.TimeoutMS = getMillisEnv("MCF_HTTP_TIMEOUT", c.API.TimeoutMS, &errs)

	c.Throttle.IntervalMS = getMillisEnv("MCF_THROTTLE_INTERVAL", c.Throttle.IntervalMS, &errs)

	c.Retry.Attempts = getIntEnv("MCF_RETRY_ATTEMPTS", c.Retry.Attempts, &errs)
	c.Retry.InitialBackoffMS = getMillisEnv("MCF_RETRY_INITIAL_BACKOFF", c.Retry.InitialBackoffMS, &errs)
	c.Retry.MaxBackoffMS = getMillisEnv("MCF_RETRY_MAX_BACKOFF", c.Retry.MaxBackoffMS, &errs)

	c.Breaker.Threshold = getIntEnv("MCF_BREAKER_THRESHOLD", c.Breaker.Threshold, &errs)
	c.Breaker.CooldownMS = getMillisEnv("MCF_BREAKER_COOLDOWN", c.Breaker.CooldownMS, &errs)

	c.Fetch.PageTimeoutMS = getMillisEnv("MCF_PAGE_TIMEOUT", c.Fetch.PageTimeoutMS, &errs)
	c.Fetch.DeadlineMS = getMillisEnv("MCF_FETCH_DEADLINE", c.Fetch.DeadlineMS, &errs)

	c.Output.Path = getEnv("MCF_OUTPUT_PATH", c.Output.Path)
	c.Output.DataDir = getEnv("MCF_DATA_DIR", c.Output.DataDir)
	c.Output.Columns = getEnv("MCF_COLUMNS", c.Output.Columns)
	c.Output.Missing = getEnv("MCF_MISSING", c.Output.Missing)
	c.Output.Extra = getEnv("MCF_EXTRA", c.Output.Extra)

	c.Cache.RedisURL = getEnv("REDIS_URL", c.Cache.RedisURL)
	c.Cache.TTLMS = getMillisEnv("MCF_CACHE_TTL", c.Cache.TTLMS, &errs)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getBoolEnv("LOG_PRETTY", c.Log.Pretty, &errs)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.PageSize < 1 {
		errs = append(errs, fmt.Errorf("api.page_size must be >= 1 (got %d)", c.API.PageSize))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("api.user_agent is required"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be >= 1 (got %d)", c.Retry.Attempts))
	}
	if c.Breaker.Threshold < 0 {
		errs = append(errs, fmt.Errorf("breaker.threshold must not be negative (got %d)", c.Breaker.Threshold))
	}

	for _, d := range []struct {
		name string
		ms   int
	}{
		{"api.timeout_ms", c.API.TimeoutMS},
		{"throttle.interval_ms", c.Throttle.IntervalMS},
		{"retry.initial_backoff_ms", c.Retry.InitialBackoffMS},
		{"retry.max_backoff_ms", c.Retry.MaxBackoffMS},
		{"breaker.cooldown_ms", c.Breaker.CooldownMS},
		{"fetch.page_timeout_ms", c.Fetch.PageTimeoutMS},
		{"fetch.deadline_ms", c.Fetch.DeadlineMS},
		{"cache.ttl_ms", c.Cache.TTLMS},
	} {
		if d.ms < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %d)", d.name, d.ms))
		}
	}
	if c.Retry.MaxBackoffMS < c.Retry.InitialBackoffMS {
		errs = append(errs, fmt.Errorf("retry.max_backoff_ms (%d) must be >= retry.initial_backoff_ms (%d)",
			c.Retry.MaxBackoffMS, c.Retry.InitialBackoffMS))
	}

	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if err := c.TabularConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// RetryPolicy returns the client retry settings.
func (c *Config) RetryPolicy() client.RetryConfig {
	policy := client.DefaultRetryConfig()
	policy.MaxAttempts = c.Retry.Attempts
	policy.InitialBackoff = millis(c.Retry.InitialBackoffMS)
	policy.MaxBackoff = millis(c.Retry.MaxBackoffMS)
	return policy
}

// PaginationConfig returns the paginator settings.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		PageSize:    c.API.PageSize,
		PageTimeout: millis(c.Fetch.PageTimeoutMS),
	}
}

// TabularConfig returns the CSV projection policies.
func (c *Config) TabularConfig() tabular.Config {
	return tabular.Config{
		Columns: tabular.ColumnMode(strings.ToLower(c.Output.Columns)),
		Missing: tabular.MissingPolicy(strings.ToLower(c.Output.Missing)),
		Extra:   tabular.ExtraPolicy(strings.ToLower(c.Output.Extra)),
	}
}

// LoggingConfig returns the logger settings writing to stderr.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func (c *Config) HTTPTimeout() time.Duration      { return millis(c.API.TimeoutMS) }
func (c *Config) ThrottleInterval() time.Duration { return millis(c.Throttle.IntervalMS) }
func (c *Config) BreakerCooldown() time.Duration  { return millis(c.Breaker.CooldownMS) }
func (c *Config) FetchDeadline() time.Duration    { return millis(c.Fetch.DeadlineMS) }
func (c *Config) CacheTTL() time.Duration         { return millis(c.Cache.TTLMS) }

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int, errs *[]error) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return fallback
	}
	return i
}

func getBoolEnv(key string, fallback bool, errs *[]error) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return fallback
	}
	return b
}

// getMillisEnv accepts a duration string ("1500ms", "2s") or integer milliseconds.
func getMillisEnv(key string, fallback int, errs *[]error) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return int(d / time.Millisecond)
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, value))
	return fallback
}
