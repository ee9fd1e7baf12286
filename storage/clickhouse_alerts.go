package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
)

// ClickHouseAlertWriter writes alert batches to the archive table.
type ClickHouseAlertWriter struct {
	clickhouse *ClickHouse
}

// NewClickHouseAlertWriter creates a writer over ch.
func NewClickHouseAlertWriter(ch *ClickHouse) *ClickHouseAlertWriter {
	return &ClickHouseAlertWriter{clickhouse: ch}
}

// WriteAlerts inserts alerts as one batch.
func (w *ClickHouseAlertWriter) WriteAlerts(ctx context.Context, alerts []core.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if w.clickhouse == nil || w.clickhouse.Conn == nil {
		return fmt.Errorf("clickhouse connection not available")
	}

	batch, err := w.clickhouse.Conn.PrepareBatch(ctx, `
		INSERT INTO alerts (
			alert_id, rule_id, rule_name, timestamp, created_at, severity,
			risk_score, category, log_count, dedup_key, tags, grouping, matched_logs
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare alert batch: %w", err)
	}

	for _, alert := range alerts {
		row, err := archiveRow(alert)
		if err != nil {
			w.clickhouse.Logger.Warnw("Skipping unencodable alert", "alert_id", alert.ID, "error", err)
			continue
		}
		if err := batch.Append(row...); err != nil {
			w.clickhouse.Logger.Errorw("Failed to append alert to batch", "alert_id", alert.ID, "error", err)
		}
	}

	start := time.Now()
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send alert batch: %w", err)
	}
	w.clickhouse.Logger.Debugw("Archived alert batch", "alerts", len(alerts), "took", time.Since(start))
	return nil
}

func archiveRow(alert core.Alert) ([]any, error) {
	grouping := "{}"
	if len(alert.Group) > 0 {
		data, err := json.Marshal(alert.Group)
		if err != nil {
			return nil, fmt.Errorf("failed to encode group: %w", err)
		}
		grouping = string(data)
	}
	logs := "[]"
	if len(alert.MatchedLogs) > 0 {
		data, err := json.Marshal(alert.MatchedLogs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode matched logs: %w", err)
		}
		logs = string(data)
	}
	tags := alert.Tags
	if tags == nil {
		tags = []string{}
	}
	risk := alert.RiskScore
	if risk < 0 {
		risk = 0
	}
	if risk > core.MaxRiskScore {
		risk = core.MaxRiskScore
	}
	count := alert.LogCount
	if count < 0 {
		count = 0
	}

	return []any{
		alert.ID,
		alert.RuleID,
		alert.RuleName,
		alert.Timestamp.UTC(),
		alert.CreatedAt.UTC(),
		string(alert.Severity),
		uint8(risk), // #nosec G115 -- clamped above
		alert.Category,
		uint32(count), // #nosec G115 -- non-negative alert counts
		alert.DedupKey,
		tags,
		grouping,
		logs,
	}, nil
}
