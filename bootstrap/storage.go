package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"argus/config"
	"argus/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// connectAttempts bounds startup retries against external stores.
const connectAttempts = 4

// connectInitialInterval is the first retry delay; later delays double up to
// four times this.
var connectInitialInterval = 2 * time.Second

// StorageComponents holds every storage-related component.
type StorageComponents struct {
	SQLite     *storage.SQLite
	RuleState  *storage.RuleStateStore
	History    *storage.ExecutionHistory
	Redis      *redis.Client
	Dedup      storage.DedupIndex
	ClickHouse *storage.ClickHouse
	Archiver   *storage.AlertArchiver
	Alerts     *storage.AlertStore
}

// Close releases every open store; the archiver is drained first.
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.Archiver != nil {
		if err := s.Archiver.Stop(); err != nil {
			sugar.Errorw("Alert archiver shutdown timed out", "error", err)
		}
	}
	if s.ClickHouse != nil {
		if err := s.ClickHouse.Close(); err != nil {
			sugar.Errorw("Failed to close ClickHouse connection", "error", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close state database", "error", err)
		}
	}
}

// EnsureDataDirectories creates the parent directory of the state database.
func EnsureDataDirectories(cfg *config.Config, sugar *zap.SugaredLogger) error {
	dir := filepath.Dir(cfg.Rules.StateDB)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	sugar.Debugw("Data directory ready", "path", dir)
	return nil
}

// InitStorage opens the state database, the dedup index, the optional
// archive and the alert store on top of them. On error everything opened so
// far is closed.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sc := &StorageComponents{}
	ok := false
	defer func() {
		if !ok {
			sc.Close(sugar)
		}
	}()

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, err
	}

	sqlite, err := storage.NewSQLite(cfg.Rules.StateDB, sugar)
	if err != nil {
		printFatal("State Database Initialization Failed", ClassifySQLiteError(err, cfg.Rules.StateDB))
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	sc.SQLite = sqlite
	sc.RuleState = storage.NewRuleStateStore(sqlite)
	sc.History = storage.NewExecutionHistory(sqlite)

	if err := sc.initDedup(ctx, cfg, sugar); err != nil {
		return nil, err
	}

	opts := []storage.AlertStoreOption{storage.WithMaxAlerts(cfg.Alerts.MaxAlerts)}
	if cfg.ClickHouse.Enabled {
		if err := sc.initArchive(ctx, cfg, sugar); err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithArchiver(sc.Archiver))
	}
	sc.Alerts = storage.NewAlertStore(sc.Dedup, sugar, opts...)

	ok = true
	return sc, nil
}

func (sc *StorageComponents) initDedup(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) error {
	if cfg.Alerts.DedupBackend != "redis" {
		sc.Dedup = storage.NewMemoryDedupIndex(cfg.Alerts.DedupCapacity, cfg.Alerts.Retention)
		sugar.Infow("Using in-memory dedup index", "capacity", cfg.Alerts.DedupCapacity, "ttl", cfg.Alerts.Retention)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sc.Redis = client

	err := retryConnect(ctx, "Redis", sugar, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		printFatal("Redis Connection Failed", ClassifyConnectionError(err, "Redis", cfg.Redis.Addr))
		return fmt.Errorf("failed to connect to Redis after %d attempts: %w", connectAttempts, err)
	}

	sc.Dedup = storage.NewRedisDedupIndex(client, cfg.Redis.KeyPrefix, cfg.Alerts.Retention)
	sugar.Infow("Using Redis dedup index", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix, "ttl", cfg.Alerts.Retention)
	return nil
}

func (sc *StorageComponents) initArchive(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) error {
	var ch *storage.ClickHouse
	err := retryConnect(ctx, "ClickHouse", sugar, func(ctx context.Context) error {
		var err error
		ch, err = storage.NewClickHouse(ctx, cfg.ClickHouse, sugar)
		return err
	})
	if err != nil {
		printFatal("ClickHouse Connection Failed", ClassifyConnectionError(err, "ClickHouse", cfg.ClickHouse.Addr))
		return fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w", connectAttempts, err)
	}
	sc.ClickHouse = ch

	if err := ch.CreateTablesIfNotExist(ctx); err != nil {
		return fmt.Errorf("failed to create archive tables: %w", err)
	}

	sc.Archiver = storage.NewAlertArchiver(ctx, storage.NewClickHouseAlertWriter(ch), storage.ArchiverConfig{
		BatchSize:     cfg.ClickHouse.BatchSize,
		FlushInterval: cfg.ClickHouse.FlushInterval,
	}, sugar)
	sc.Archiver.Start()
	return nil
}

// retryConnect runs connect with exponential backoff until it succeeds,
// connectAttempts is reached or ctx ends.
func retryConnect(ctx context.Context, component string, sugar *zap.SugaredLogger, connect func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = connectInitialInterval
	policy.MaxInterval = 4 * connectInitialInterval

	attempt := 0
	op := func() error {
		attempt++
		err := connect(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		sugar.Warnw("Connection attempt failed",
			"component", component,
			"attempt", attempt,
			"max_attempts", connectAttempts,
			"retry_in", delay,
			"error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, connectAttempts-1), ctx), notify)
	if err == nil {
		sugar.Infow("Connected", "component", component, "attempts", attempt)
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func printFatal(title, msg string) {
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", title)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", msg)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
}
