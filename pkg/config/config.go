// Package config loads client settings from an optional file and AC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/activecampaign-client/pkg/client"
	"github.com/Sternrassler/activecampaign-client/pkg/pagination"
	"github.com/Sternrassler/activecampaign-client/pkg/ratelimit"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. AC_APITOKEN or
// AC_RATELIMIT_REQUESTS.
const EnvPrefix = "AC"

// MaxPageSize is the largest page the API serves.
const MaxPageSize = 100

// Config is the complete client configuration.
type Config struct {
	BaseURL    string           `mapstructure:"baseURL"`
	APIToken   string           `mapstructure:"apiToken"`
	RateLimit  RateLimitConfig  `mapstructure:"rateLimit"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

// RateLimitConfig configures the admission guard. With RedisAddr set the
// window is shared through Redis instead of held in process.
type RateLimitConfig struct {
	Requests  int           `mapstructure:"requests"`
	Window    time.Duration `mapstructure:"window"`
	RedisAddr string        `mapstructure:"redisAddr"`
	RedisKey  string        `mapstructure:"redisKey"`
}

// RetryConfig configures the retry loop.
type RetryConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	StopOnClientError bool          `mapstructure:"stopOnClientError"`
}

// PaginationConfig configures collection reads.
type PaginationConfig struct {
	PageSize int `mapstructure:"pageSize"`
	Workers  int `mapstructure:"workers"`
}

// HTTPConfig configures the transport.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"userAgent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("baseURL", "")
	v.SetDefault("apiToken", "")
	v.SetDefault("rateLimit.requests", 5)
	v.SetDefault("rateLimit.window", time.Second)
	v.SetDefault("rateLimit.redisAddr", "")
	v.SetDefault("rateLimit.redisKey", ratelimit.DefaultRedisKey)
	v.SetDefault("retry.interval", client.DefaultRetryInterval)
	v.SetDefault("retry.maxAttempts", 0)
	v.SetDefault("retry.stopOnClientError", false)
	v.SetDefault("pagination.pageSize", pagination.DefaultPageSize)
	v.SetDefault("pagination.workers", pagination.DefaultWorkers)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.userAgent", "activecampaign-client/0.1.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads path (any format viper understands; empty for none), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("baseURL is required"))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("apiToken is required"))
	}
	if c.RateLimit.Requests <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.requests must be > 0 (got %d)", c.RateLimit.Requests))
	}
	if c.RateLimit.Window < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.window must be >= 0 (got %s)", c.RateLimit.Window))
	}
	if c.Retry.Interval < 0 {
		errs = append(errs, fmt.Errorf("retry.interval must be >= 0 (got %s)", c.Retry.Interval))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be >= 0 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Pagination.PageSize < 1 || c.Pagination.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("pagination.pageSize must be in [1, %d] (got %d)", MaxPageSize, c.Pagination.PageSize))
	}
	if c.Pagination.Workers < 1 {
		errs = append(errs, fmt.Errorf("pagination.workers must be >= 1 (got %d)", c.Pagination.Workers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ClientConfig converts c for client.New. The admitter is left unset; a
// Redis-backed one is built by the caller that owns the Redis connection.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.BaseURL, c.APIToken)
	cfg.RateLimit = c.RateLimit.Requests
	cfg.RateWindow = c.RateLimit.Window
	cfg.Timeout = c.HTTP.Timeout
	if c.HTTP.UserAgent != "" {
		cfg.UserAgent = c.HTTP.UserAgent
	}
	cfg.Retry = client.RetryConfig{
		Interval:          c.Retry.Interval,
		MaxAttempts:       c.Retry.MaxAttempts,
		StopOnClientError: c.Retry.StopOnClientError,
	}
	return cfg
}

// PaginationConfig converts c for the batch fetcher.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		PageSize: c.Pagination.PageSize,
		Workers:  c.Pagination.Workers,
	}
}
