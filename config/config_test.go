package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a valid Config for testing
func newTestConfig() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Workers:       4,
			QueueSize:     64,
			RuleTimeout:   time.Minute,
			MaxSampleSize: 50,
			DefaultBucket: 5 * time.Minute,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:  []string{"http://localhost:9200"},
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Alerts: AlertsConfig{
			MaxAlerts:    1000,
			Retention:    24 * time.Hour,
			DedupBackend: "memory",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Rules: RulesConfig{Dir: "rules", StateDB: "data/argus.db"},
		ClickHouse: ClickHouseConfig{
			Addr:          "localhost:9000",
			Database:      "argus",
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		API: APIConfig{Listen: ":1212"},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, 4, config.Engine.Workers)
	assert.Equal(t, 60*time.Second, config.Engine.RuleTimeout)
	assert.Equal(t, 50, config.Engine.MaxSampleSize)
	assert.Equal(t, time.Duration(0), config.Engine.ScheduleInterval)
	assert.Equal(t, "source.ip", config.Engine.SourceDimension)
	assert.Equal(t, []string{"http://localhost:9200"}, config.Elasticsearch.Addresses)
	assert.Equal(t, 30*time.Second, config.Elasticsearch.Timeout)
	assert.Equal(t, 3, config.Elasticsearch.MaxRetries)
	assert.Equal(t, uint32(5), config.Elasticsearch.CircuitBreaker.MaxFailures)
	assert.Equal(t, 1000, config.Alerts.MaxAlerts)
	assert.Equal(t, "memory", config.Alerts.DedupBackend)
	assert.Equal(t, "argus:dedup:", config.Redis.KeyPrefix)
	assert.False(t, config.ClickHouse.Enabled)
	assert.Equal(t, ":1212", config.API.Listen)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
log_level: debug
engine:
  workers: 8
  rule_timeout: 90s
  schedule_interval: 5m
elasticsearch:
  addresses: ["https://es-1:9200", "https://es-2:9200"]
  api_key: secret
alerts:
  dedup_backend: redis
redis:
  addr: cache:6379
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, 8, config.Engine.Workers)
	assert.Equal(t, 90*time.Second, config.Engine.RuleTimeout)
	assert.Equal(t, 5*time.Minute, config.Engine.ScheduleInterval)
	assert.Equal(t, []string{"https://es-1:9200", "https://es-2:9200"}, config.Elasticsearch.Addresses)
	assert.Equal(t, "redis", config.Alerts.DedupBackend)
	assert.Equal(t, "cache:6379", config.Redis.Addr)
	assert.Equal(t, 64, config.Engine.QueueSize, "unset keys keep defaults")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARGUS_ENGINE_WORKERS", "2")
	t.Setenv("ARGUS_ELASTICSEARCH_ADDRESSES", "http://a:9200, http://b:9200")
	t.Setenv("ARGUS_ALERTS_MAX_ALERTS", "50")
	t.Setenv("ARGUS_LOG_LEVEL", "WARN")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, config.Engine.Workers)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, config.Elasticsearch.Addresses)
	assert.Equal(t, 50, config.Alerts.MaxAlerts)
	assert.Equal(t, "warn", config.LogLevel)
}

func TestLoadConfig_ExplicitFileMustExist(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidValueRejected(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARGUS_ENGINE_WORKERS", "0")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }, true},
		{"negative queue", func(c *Config) { c.Engine.QueueSize = -1 }, true},
		{"zero rule timeout", func(c *Config) { c.Engine.RuleTimeout = 0 }, true},
		{"zero bucket", func(c *Config) { c.Engine.DefaultBucket = 0 }, true},
		{"negative schedule", func(c *Config) { c.Engine.ScheduleInterval = -time.Second }, true},
		{"no addresses", func(c *Config) { c.Elasticsearch.Addresses = nil }, true},
		{"address without scheme", func(c *Config) { c.Elasticsearch.Addresses = []string{"localhost:9200"} }, true},
		{"address without host", func(c *Config) { c.Elasticsearch.Addresses = []string{"http://"} }, true},
		{"api key and username", func(c *Config) {
			c.Elasticsearch.APIKey = "k"
			c.Elasticsearch.Username = "u"
		}, true},
		{"unknown dedup backend", func(c *Config) { c.Alerts.DedupBackend = "memcached" }, true},
		{"redis backend", func(c *Config) { c.Alerts.DedupBackend = "redis" }, false},
		{"redis backend bad addr", func(c *Config) {
			c.Alerts.DedupBackend = "redis"
			c.Redis.Addr = "cache"
		}, true},
		{"zero max alerts", func(c *Config) { c.Alerts.MaxAlerts = 0 }, true},
		{"empty rules dir", func(c *Config) { c.Rules.Dir = "" }, true},
		{"clickhouse enabled", func(c *Config) { c.ClickHouse.Enabled = true }, false},
		{"clickhouse without database", func(c *Config) {
			c.ClickHouse.Enabled = true
			c.ClickHouse.Database = ""
		}, true},
		{"clickhouse disabled ignores fields", func(c *Config) { c.ClickHouse.Database = "" }, false},
		{"bad listen", func(c *Config) { c.API.Listen = "1212" }, true},
		{"negative rate", func(c *Config) { c.API.RateLimit.Burst = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig()
			tt.mutate(&c)
			err := validateConfig(&c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMasked(t *testing.T) {
	c := newTestConfig()
	c.Elasticsearch.Password = "hunter2"
	c.Redis.Password = ""
	c.ClickHouse.Password = "pw"

	m := c.Masked()
	assert.Equal(t, "********", m.Elasticsearch.Password)
	assert.Empty(t, m.Redis.Password)
	assert.Equal(t, "********", m.ClickHouse.Password)
	assert.Equal(t, "hunter2", c.Elasticsearch.Password, "original untouched")
}
