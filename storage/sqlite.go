package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	// sqliteTimeLayout is fixed width so stored timestamps sort lexically.
	sqliteTimeLayout   = "2006-01-02T15:04:05.000000000Z"
	maxDatabasePathLen = 512
)

// SQLite holds the connections to the local state database. Writes go
// through a single-connection pool; reads use a separate query-only pool.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// poolSettings sizes one of the two connection pools.
type poolSettings struct {
	name     string
	maxOpen  int
	maxIdle  int
	idleTime time.Duration
	readOnly bool
}

var (
	writerPool = poolSettings{name: "writer", maxOpen: 1, maxIdle: 1}
	readerPool = poolSettings{name: "reader", maxOpen: 4, maxIdle: 2, idleTime: 10 * time.Minute, readOnly: true}
)

// openPool opens dsn with WAL journaling and a busy timeout. The WAL check is
// skipped for in-memory databases, which report "memory" instead.
func openPool(dsn string, inMemory bool, cfg poolSettings) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", cfg.name, err)
	}
	fail := func(step string, err error) (*sql.DB, error) {
		_ = db.Close()
		return nil, fmt.Errorf("%s pool: %s: %w", cfg.name, step, err)
	}

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"}
	if cfg.readOnly {
		pragmas = append(pragmas, "PRAGMA query_only=ON")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fail(pragma, err)
		}
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fail("read journal mode", err)
	}
	if !inMemory && mode != "wal" {
		return fail("journal mode", fmt.Errorf("expected wal, got %s", mode))
	}

	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	if cfg.idleTime > 0 {
		db.SetConnMaxIdleTime(cfg.idleTime)
	}
	return db, nil
}

// NewSQLite opens (creating if needed) the state database at dbPath.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	inMemory := dbPath == ":memory:"
	dsn := dbPath
	if inMemory {
		// Both pools must see the same database.
		dsn = "file::memory:?cache=shared"
	} else if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	s := &SQLite{Path: dbPath, Logger: logger}
	var err error
	if s.WriteDB, err = openPool(dsn, inMemory, writerPool); err != nil {
		return nil, err
	}
	if s.ReadDB, err = openPool(dsn, inMemory, readerPool); err != nil {
		_ = s.WriteDB.Close()
		return nil, err
	}
	if err := s.createTables(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("Opened state database", "path", dbPath)
	return s, nil
}

// WithTransaction runs fn in a write transaction, rolling back on error or panic.
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rule_state (
		rule_id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS execution_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		requested INTEGER NOT NULL,
		executed INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		alerts_generated INTEGER NOT NULL,
		alerts_suppressed INTEGER NOT NULL,
		failures TEXT NOT NULL -- JSON array
	);
	CREATE INDEX IF NOT EXISTS idx_execution_history_started_at ON execution_history(started_at DESC);
	`
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes both pools.
func (s *SQLite) Close() error {
	var errs []error
	for _, db := range []*sql.DB{s.WriteDB, s.ReadDB} {
		if db != nil {
			if err := db.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the database connection is alive.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.WriteDB.PingContext(ctx)
}

// validateDatabasePath accepts :memory:, relative paths that stay inside
// the working directory, and paths under the system temp directory.
func validateDatabasePath(dbPath string) error {
	switch {
	case dbPath == "":
		return errors.New("database path cannot be empty")
	case dbPath == ":memory:":
		return nil
	case len(dbPath) > maxDatabasePathLen:
		return fmt.Errorf("database path longer than %d characters", maxDatabasePathLen)
	case strings.ContainsRune(dbPath, 0):
		return errors.New("database path contains a null byte")
	case strings.Contains(dbPath, ".."):
		return fmt.Errorf("database path %s must not contain ..", dbPath)
	}

	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dbPath, err)
	}
	if strings.HasPrefix(abs, filepath.Clean(os.TempDir())) {
		return nil
	}
	if filepath.IsAbs(dbPath) {
		return fmt.Errorf("database path %s must be relative", dbPath)
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if rel, err := filepath.Rel(wd, abs); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("database path %s resolves outside %s", dbPath, wd)
	}
	return nil
}
