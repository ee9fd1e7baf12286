package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. ARGUS_ENGINE_WORKERS.
const EnvPrefix = "ARGUS"

// EngineConfig tunes rule execution.
type EngineConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	RuleTimeout      time.Duration `mapstructure:"rule_timeout"`
	MaxSampleSize    int           `mapstructure:"max_sample_size"`
	DefaultBucket    time.Duration `mapstructure:"default_bucket"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"` // 0 disables the scheduler
	SourceDimension  string        `mapstructure:"source_dimension"`
}

// CircuitBreakerConfig opens the breaker after MaxFailures consecutive
// failures and probes again after OpenTimeout.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// ElasticsearchConfig is the log store connection.
type ElasticsearchConfig struct {
	Addresses          []string             `mapstructure:"addresses"`
	Username           string               `mapstructure:"username"`
	Password           string               `mapstructure:"password"`
	APIKey             string               `mapstructure:"api_key"`
	Timeout            time.Duration        `mapstructure:"timeout"`
	MaxRetries         int                  `mapstructure:"max_retries"`
	InsecureSkipVerify bool                 `mapstructure:"insecure_skip_verify"`
	RateLimitPerSecond float64              `mapstructure:"rate_limit_per_second"`
	CircuitBreaker     CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// AlertsConfig bounds the alert store and selects the dedup backend.
type AlertsConfig struct {
	MaxAlerts     int           `mapstructure:"max_alerts"`
	Retention     time.Duration `mapstructure:"retention"`
	DedupBackend  string        `mapstructure:"dedup_backend"` // memory or redis
	DedupCapacity int           `mapstructure:"dedup_capacity"`
}

// RedisConfig is used when alerts.dedup_backend is redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RulesConfig locates rule definitions and their persisted state.
type RulesConfig struct {
	Dir     string `mapstructure:"dir"`
	StateDB string `mapstructure:"state_db"`
}

// MappingsConfig points at an optional mapping file merged over the
// built-in table.
type MappingsConfig struct {
	File string `mapstructure:"file"`
}

// ClickHouseConfig is the optional alert archive.
type ClickHouseConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Database      string        `mapstructure:"database"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	TLS           bool          `mapstructure:"tls"`
	MaxPoolSize   int           `mapstructure:"max_pool_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RateLimitConfig is applied per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// APIConfig is the HTTP server.
type APIConfig struct {
	Listen       string          `mapstructure:"listen"`
	TrustProxy   bool            `mapstructure:"trust_proxy"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// Config holds all configuration for Argus.
type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Mappings      MappingsConfig      `mapstructure:"mappings"`
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse"`
	API           APIConfig           `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.rule_timeout", 60*time.Second)
	v.SetDefault("engine.max_sample_size", 50)
	v.SetDefault("engine.default_bucket", 5*time.Minute)
	v.SetDefault("engine.schedule_interval", time.Duration(0))
	v.SetDefault("engine.source_dimension", "source.ip")

	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.api_key", "")
	v.SetDefault("elasticsearch.timeout", 30*time.Second)
	v.SetDefault("elasticsearch.max_retries", 3)
	v.SetDefault("elasticsearch.insecure_skip_verify", false)
	v.SetDefault("elasticsearch.rate_limit_per_second", 0.0)
	v.SetDefault("elasticsearch.circuit_breaker.max_failures", 5)
	v.SetDefault("elasticsearch.circuit_breaker.open_timeout", 30*time.Second)

	v.SetDefault("alerts.max_alerts", 1000)
	v.SetDefault("alerts.retention", 24*time.Hour)
	v.SetDefault("alerts.dedup_backend", "memory")
	v.SetDefault("alerts.dedup_capacity", 100_000)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "argus:dedup:")

	v.SetDefault("rules.dir", "rules")
	v.SetDefault("rules.state_db", "data/argus.db")

	v.SetDefault("mappings.file", "")

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "argus")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.tls", false)
	v.SetDefault("clickhouse.max_pool_size", 4)
	v.SetDefault("clickhouse.batch_size", 100)
	v.SetDefault("clickhouse.flush_interval", 5*time.Second)

	v.SetDefault("api.listen", ":1212")
	v.SetDefault("api.trust_proxy", false)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 5*time.Minute)
	v.SetDefault("api.rate_limit.requests_per_second", 20.0)
	v.SetDefault("api.rate_limit.burst", 40)
}

// loadFromEnv maps ARGUS_SECTION_KEY onto section.key.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads config.yaml from the working directory or ./config, then
// applies ARGUS_ environment overrides. A missing file is not an error unless
// path names one explicitly.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.normalize()

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// normalize trims list entries that commonly arrive padded from env vars.
func (c *Config) normalize() {
	addrs := c.Elasticsearch.Addresses[:0]
	for _, a := range c.Elasticsearch.Addresses {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	c.Elasticsearch.Addresses = addrs
	c.Alerts.DedupBackend = strings.ToLower(strings.TrimSpace(c.Alerts.DedupBackend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

func validateConfig(config *Config) error {
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q: must be debug, info, warn or error", config.LogLevel)
	}

	e := config.Engine
	if e.Workers < 1 {
		return fmt.Errorf("engine workers must be at least 1, got %d", e.Workers)
	}
	if e.QueueSize < 0 {
		return fmt.Errorf("engine queue_size cannot be negative")
	}
	if e.RuleTimeout <= 0 {
		return fmt.Errorf("engine rule_timeout must be positive")
	}
	if e.MaxSampleSize < 0 {
		return fmt.Errorf("engine max_sample_size cannot be negative")
	}
	if e.DefaultBucket <= 0 {
		return fmt.Errorf("engine default_bucket must be positive")
	}
	if e.ScheduleInterval < 0 {
		return fmt.Errorf("engine schedule_interval cannot be negative")
	}

	es := config.Elasticsearch
	if len(es.Addresses) == 0 {
		return fmt.Errorf("elasticsearch addresses cannot be empty")
	}
	for _, addr := range es.Addresses {
		parsed, err := url.Parse(addr)
		if err != nil {
			return fmt.Errorf("invalid elasticsearch address %q: %w", addr, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid elasticsearch address %q: scheme must be http or https", addr)
		}
		if parsed.Host == "" {
			return fmt.Errorf("invalid elasticsearch address %q: missing host", addr)
		}
	}
	if es.Timeout <= 0 {
		return fmt.Errorf("elasticsearch timeout must be positive")
	}
	if es.MaxRetries < 0 {
		return fmt.Errorf("elasticsearch max_retries cannot be negative")
	}
	if es.RateLimitPerSecond < 0 {
		return fmt.Errorf("elasticsearch rate_limit_per_second cannot be negative")
	}
	if es.APIKey != "" && es.Username != "" {
		return fmt.Errorf("elasticsearch api_key and username are mutually exclusive")
	}

	a := config.Alerts
	if a.MaxAlerts < 1 {
		return fmt.Errorf("alerts max_alerts must be at least 1")
	}
	if a.Retention <= 0 {
		return fmt.Errorf("alerts retention must be positive")
	}
	switch a.DedupBackend {
	case "memory":
	case "redis":
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when alerts dedup_backend is redis")
		}
		if _, _, err := net.SplitHostPort(config.Redis.Addr); err != nil {
			return fmt.Errorf("invalid redis addr %q: %w", config.Redis.Addr, err)
		}
	default:
		return fmt.Errorf("invalid alerts dedup_backend %q: must be memory or redis", a.DedupBackend)
	}

	if config.Rules.Dir == "" {
		return fmt.Errorf("rules dir cannot be empty")
	}
	if config.Rules.StateDB == "" {
		return fmt.Errorf("rules state_db cannot be empty")
	}

	if ch := config.ClickHouse; ch.Enabled {
		if ch.Addr == "" {
			return fmt.Errorf("clickhouse addr is required when clickhouse is enabled")
		}
		if ch.Database == "" {
			return fmt.Errorf("clickhouse database cannot be empty")
		}
		if ch.BatchSize < 1 {
			return fmt.Errorf("clickhouse batch_size must be at least 1")
		}
		if ch.FlushInterval <= 0 {
			return fmt.Errorf("clickhouse flush_interval must be positive")
		}
	}

	if _, _, err := net.SplitHostPort(config.API.Listen); err != nil {
		return fmt.Errorf("invalid api listen address %q: %w", config.API.Listen, err)
	}
	if config.API.RateLimit.RequestsPerSecond < 0 || config.API.RateLimit.Burst < 0 {
		return fmt.Errorf("api rate_limit values cannot be negative")
	}
	return nil
}

// Masked returns a copy with credentials replaced, for logging and the CLI.
func (c Config) Masked() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Elasticsearch.Addresses = append([]string(nil), c.Elasticsearch.Addresses...)
	c.Elasticsearch.Password = mask(c.Elasticsearch.Password)
	c.Elasticsearch.APIKey = mask(c.Elasticsearch.APIKey)
	c.Redis.Password = mask(c.Redis.Password)
	c.ClickHouse.Password = mask(c.ClickHouse.Password)
	return c
}
