package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"argus/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	defaultClickHousePool = 4
	clickHouseDialTimeout = 10 * time.Second
	clickHousePingTimeout = 5 * time.Second
	maxIdentifierLen      = 64
)

// identifierPattern restricts names that end up inside DDL.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ClickHouse holds the connection used for the alert archive.
type ClickHouse struct {
	Conn   driver.Conn
	Config config.ClickHouseConfig
	Logger *zap.SugaredLogger
}

// NewClickHouse connects, verifies the server answers and ensures the
// archive database exists.
func NewClickHouse(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.SugaredLogger) (*ClickHouse, error) {
	if err := validateIdentifier(cfg.Database); err != nil {
		return nil, fmt.Errorf("clickhouse database: %w", err)
	}

	conn, err := clickhouse.Open(clickHouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, clickHousePingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", cfg.Addr, err)
	}
	ddl := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database)
	if err := conn.Exec(pingCtx, ddl); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create database %s: %w", cfg.Database, err)
	}

	logger.Infow("Connected to ClickHouse", "addr", cfg.Addr, "database", cfg.Database)
	return &ClickHouse{Conn: conn, Config: cfg, Logger: logger}, nil
}

func clickHouseOptions(cfg config.ClickHouseConfig) *clickhouse.Options {
	pool := cfg.MaxPoolSize
	if pool <= 0 {
		pool = defaultClickHousePool
	}
	dialer := net.Dialer{Timeout: clickHouseDialTimeout, KeepAlive: 30 * time.Second}

	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings:         clickhouse.Settings{"max_execution_time": 60},
		Compression:      &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:      clickHouseDialTimeout,
		MaxOpenConns:     pool,
		MaxIdleConns:     (pool + 1) / 2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
	}
	if cfg.TLS {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func validateIdentifier(name string) error {
	switch {
	case name == "":
		return errors.New("name cannot be empty")
	case len(name) > maxIdentifierLen:
		return fmt.Errorf("name longer than %d characters", maxIdentifierLen)
	case !identifierPattern.MatchString(name):
		return fmt.Errorf("name %q may only contain letters, digits and underscores", name)
	}
	return nil
}

// alertsDDL is the archive table; rows expire 90 days after the match.
const alertsDDL = `
CREATE TABLE IF NOT EXISTS alerts (
	alert_id     String,
	rule_id      String,
	rule_name    String,
	timestamp    DateTime64(3, 'UTC'),
	created_at   DateTime64(3, 'UTC'),
	severity     LowCardinality(String),
	risk_score   UInt8,
	category     LowCardinality(String),
	log_count    UInt32,
	dedup_key    String,
	tags         Array(String),
	grouping     String,
	matched_logs String,
	INDEX idx_rule_id rule_id TYPE bloom_filter(0.01) GRANULARITY 1,
	INDEX idx_dedup_key dedup_key TYPE bloom_filter(0.01) GRANULARITY 1
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (timestamp, rule_id)
TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// CreateTablesIfNotExist creates the alert archive table.
func (ch *ClickHouse) CreateTablesIfNotExist(ctx context.Context) error {
	if err := ch.Conn.Exec(ctx, alertsDDL); err != nil {
		return fmt.Errorf("failed to create alerts table: %w", err)
	}
	ch.Logger.Debugw("Alert archive table ready", "database", ch.Config.Database)
	return nil
}

// HealthCheck pings the server.
func (ch *ClickHouse) HealthCheck(ctx context.Context) error {
	return ch.Conn.Ping(ctx)
}

// Close closes the connection.
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}
