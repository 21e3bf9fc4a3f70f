package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/Sternrassler/legacy-adapter/pkg/breaker"
	"github.com/Sternrassler/legacy-adapter/pkg/client"
	"github.com/Sternrassler/legacy-adapter/pkg/logging"
	"github.com/Sternrassler/legacy-adapter/pkg/pagination"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type UpstreamConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Timeout   string `mapstructure:"timeout"`
	UserAgent string `mapstructure:"user_agent"`
	// Headers are sent with every request. Keys are lower-cased by the
	// loader, which HTTP tolerates.
	Headers map[string]string `mapstructure:"headers"`
}

type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   string  `mapstructure:"base_delay"`
	MaxDelay    string  `mapstructure:"max_delay"`
	Jitter      float64 `mapstructure:"jitter"`
}

type BreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout"`
}

type CacheConfig struct {
	CustomerTTL string `mapstructure:"customer_ttl"`
	PaymentTTL  string `mapstructure:"payment_ttl"`
	ListTTL     string `mapstructure:"list_ttl"`
	// StaleTTL enables serving stale values while a breaker is open; "0s" disables it
	StaleTTL string `mapstructure:"stale_ttl"`
	Shards   int    `mapstructure:"shards"`
}

type PaginationConfig struct {
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	PageTimeout    string `mapstructure:"page_timeout"`
	MaxPages       int    `mapstructure:"max_pages"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Pagination PaginationConfig `mapstructure:"pagination"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.environment", EnvDev)

	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.pretty", false)

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.user_agent", "legacy-proxy/1.0")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "100ms")
	v.SetDefault("retry.max_delay", "1s")
	v.SetDefault("retry.jitter", 0.0)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "30s")

	v.SetDefault("cache.customer_ttl", "5m")
	v.SetDefault("cache.payment_ttl", "1m")
	v.SetDefault("cache.list_ttl", "30s")
	v.SetDefault("cache.stale_ttl", "0s")
	v.SetDefault("cache.shards", 16)

	v.SetDefault("pagination.max_concurrency", 4)
	v.SetDefault("pagination.page_timeout", "15s")
	v.SetDefault("pagination.max_pages", 500)
}

// Load reads config.yaml from ./config or the working directory, applies
// environment overrides and validates the result. A missing file is not an
// error; defaults and environment variables are used instead.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads the configuration from path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Error().Err(err).Msg("Failed to read config file")
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Warn().Msg("Config file not found, using defaults and environment variables")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal config")
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				levels := make([]interface{}, 0, len(logging.Levels()))
				for _, l := range logging.Levels() {
					levels = append(levels, string(l))
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(levels...),
					),
				)
			}),
		),
		validation.Field(&c.Upstream,
			validation.By(func(value interface{}) error {
				uc, ok := value.(UpstreamConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
				}
				return validation.ValidateStruct(&uc,
					validation.Field(&uc.BaseURL,
						validation.Required,
						is.URL,
						validation.By(validateHTTPURL),
					),
					validation.Field(&uc.Timeout, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&uc.UserAgent, validation.Required),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				err := validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxAttempts, validation.Required, validation.Min(1)),
					validation.Field(&rc.BaseDelay, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.MaxDelay, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.Jitter, validation.Min(0.0), validation.Max(1.0)),
				)
				if err != nil {
					return err
				}
				return rc.policy().Validate()
			}),
		),
		validation.Field(&c.Breaker,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&bc.ResetTimeout, validation.Required, validation.By(validatePositiveDuration)),
				)
			}),
		),
		validation.Field(&c.Cache,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CacheConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CacheConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.CustomerTTL, validation.Required, validation.By(validateDuration)),
					validation.Field(&cc.PaymentTTL, validation.Required, validation.By(validateDuration)),
					validation.Field(&cc.ListTTL, validation.Required, validation.By(validateDuration)),
					validation.Field(&cc.StaleTTL, validation.Required, validation.By(validateDuration)),
					validation.Field(&cc.Shards, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Pagination,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PaginationConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PaginationConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.MaxConcurrency, validation.Required, validation.Min(1)),
					validation.Field(&pc.PageTimeout, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&pc.MaxPages, validation.Min(0)),
				)
			}),
		),
	)
}

// ClientConfig returns the upstream client configuration.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:   c.Upstream.BaseURL,
		Timeout:   mustDuration(c.Upstream.Timeout),
		UserAgent: c.Upstream.UserAgent,
		Headers:   c.Upstream.Headers,
	}
}

// RetryPolicy returns the retry policy.
func (c *Config) RetryPolicy() client.RetryPolicy {
	return c.Retry.policy()
}

func (rc RetryConfig) policy() client.RetryPolicy {
	return client.RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   mustDuration(rc.BaseDelay),
		MaxDelay:    mustDuration(rc.MaxDelay),
		Jitter:      rc.Jitter,
	}
}

// BreakerConfig returns the breaker thresholds shared by every resource.
func (c *Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     mustDuration(c.Breaker.ResetTimeout),
	}
}

// PaginationConfig returns the list fetching configuration.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		MaxConcurrency: c.Pagination.MaxConcurrency,
		Timeout:        mustDuration(c.Pagination.PageTimeout),
		MaxPages:       c.Pagination.MaxPages,
	}
}

// LoggingConfig returns the logger configuration. Output is left nil
// (stderr) and Service is left to the caller.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:       logging.LogLevel(c.Logging.Level),
		Pretty:      c.Logging.Pretty,
		Environment: c.Server.Environment,
	}
}

// TTLs returns the cache TTLs.
func (c *Config) TTLs() (customer, payment, list, stale time.Duration) {
	return mustDuration(c.Cache.CustomerTTL),
		mustDuration(c.Cache.PaymentTTL),
		mustDuration(c.Cache.ListTTL),
		mustDuration(c.Cache.StaleTTL)
}

// mustDuration parses a duration already checked by Validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}
	if d, _ := time.ParseDuration(value.(string)); d == 0 {
		return validation.NewError("validation_zero_duration", "must be greater than zero")
	}
	return nil
}

func validateHTTPURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
