package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
)

// ExecutionRecord is one persisted batch summary.
type ExecutionRecord struct {
	ID               int64              `json:"id"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
	Requested        int                `json:"requested"`
	Executed         int                `json:"executed"`
	Succeeded        int                `json:"succeeded"`
	Failed           int                `json:"failed"`
	AlertsGenerated  int                `json:"alerts_generated"`
	AlertsSuppressed int                `json:"alerts_suppressed"`
	Failures         []core.RuleFailure `json:"failures"`
}

const (
	// DefaultHistoryLimit caps Recent when no limit is given.
	DefaultHistoryLimit = 50

	// DefaultHistoryRetention is how many batches are kept.
	DefaultHistoryRetention = 1000
)

// ExecutionHistory records batch summaries in SQLite, keeping the newest
// retention rows.
type ExecutionHistory struct {
	db        *SQLite
	retention int
}

// HistoryOption configures an ExecutionHistory.
type HistoryOption func(*ExecutionHistory)

// WithHistoryRetention sets how many batches are kept. Non-positive keeps all.
func WithHistoryRetention(n int) HistoryOption {
	return func(h *ExecutionHistory) { h.retention = n }
}

// NewExecutionHistory creates a history over db.
func NewExecutionHistory(db *SQLite, opts ...HistoryOption) *ExecutionHistory {
	h := &ExecutionHistory{db: db, retention: DefaultHistoryRetention}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Record stores summary and drops the rows beyond the retention.
func (h *ExecutionHistory) Record(ctx context.Context, summary core.ExecutionSummary) error {
	failures, err := json.Marshal(summary.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}
	err = h.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_history (
				started_at, finished_at, requested, executed, succeeded, failed,
				alerts_generated, alerts_suppressed, failures
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			summary.StartedAt.UTC().Format(sqliteTimeLayout),
			summary.FinishedAt.UTC().Format(sqliteTimeLayout),
			summary.Requested, summary.Executed, summary.Succeeded, summary.Failed,
			summary.AlertsGenerated, summary.AlertsSuppressed, string(failures)); err != nil {
			return err
		}
		if h.retention <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM execution_history WHERE id NOT IN (
				SELECT id FROM execution_history ORDER BY started_at DESC, id DESC LIMIT ?
			)`, h.retention)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// Recent returns the latest records, newest first.
func (h *ExecutionHistory) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := h.db.ReadDB.QueryContext(ctx, `
		SELECT id, started_at, finished_at, requested, executed, succeeded, failed,
			alerts_generated, alerts_suppressed, failures
		FROM execution_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution history: %w", err)
	}
	defer rows.Close()

	out := make([]ExecutionRecord, 0)
	for rows.Next() {
		var rec ExecutionRecord
		var started, finished, failures string
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.Requested, &rec.Executed,
			&rec.Succeeded, &rec.Failed, &rec.AlertsGenerated, &rec.AlertsSuppressed, &failures); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		rec.StartedAt, _ = time.Parse(sqliteTimeLayout, started)
		rec.FinishedAt, _ = time.Parse(sqliteTimeLayout, finished)
		if err := json.Unmarshal([]byte(failures), &rec.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode failures of execution %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution history: %w", err)
	}
	return out, nil
}
