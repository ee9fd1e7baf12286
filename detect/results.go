package detect

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"argus/backend"
	"argus/core"

	"github.com/google/uuid"
)

// Column names that carry a match count when the query does not name its
// own COUNT output, in order of preference.
var countColumnNames = []string{"count", "count(*)", "event_count", "cnt"}

// Column names that carry the observation time of a row.
var timestampColumnNames = []string{core.TimestampField, "timestamp", "last_seen", "max_timestamp"}

// buildAlerts converts a query result into alerts. Aggregated or grouped
// results produce one alert per row; anything else collapses into a single
// alert over all rows. fallback stamps alerts whose rows carry no time.
func (e *Engine) buildAlerts(rule core.Rule, plan QueryPlan, res backend.Result, fallback time.Time) []core.Alert {
	if len(res.Rows) == 0 {
		return nil
	}

	if !plan.Aggregating && len(rule.GroupBy) == 0 {
		docs := make([]map[string]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			docs = append(docs, row.Values)
		}
		ts := latestTimestamp(docs, fallback)
		return []core.Alert{newAlert(rule, ts, len(res.Rows), sample(docs, e.cfg.MaxSampleSize), nil, plan.Bucket)}
	}

	countCol := pickCountColumn(plan.CountColumns, resultColumns(res))
	alerts := make([]core.Alert, 0, len(res.Rows))
	for _, row := range res.Rows {
		count := 1
		if countCol != "" {
			if n, ok := asCount(row.Values[countCol]); ok {
				count = n
			}
			if count <= 0 {
				continue
			}
		}

		docs := row.Samples
		if len(docs) == 0 {
			docs = []map[string]any{row.Values}
		}
		ts := latestTimestamp(append([]map[string]any{row.Values}, row.Samples...), fallback)
		group := groupValues(plan.Grouping, row.Values)
		alerts = append(alerts, newAlert(rule, ts, count, sample(docs, e.cfg.MaxSampleSize), group, plan.Bucket))
	}
	return alerts
}

func newAlert(rule core.Rule, ts time.Time, count int, logs []map[string]any, group map[string]any, bucket time.Duration) core.Alert {
	return core.Alert{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Timestamp:   ts.UTC(),
		Severity:    rule.Severity,
		RiskScore:   rule.RiskScore,
		Category:    rule.Category,
		Description: rule.Description,
		LogCount:    count,
		MatchedLogs: logs,
		Tags:        append([]string(nil), rule.Tags...),
		Group:       group,
		DedupKey:    core.DedupKey(rule.ID, group, ts, bucket),
	}
}

// resultColumns returns the declared columns, or the sorted union of row
// keys when the backend declared none.
func resultColumns(res backend.Result) []string {
	if len(res.Columns) > 0 {
		return res.ColumnNames()
	}
	seen := make(map[string]struct{})
	for _, row := range res.Rows {
		for k := range row.Values {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func pickCountColumn(fromQuery []string, columns []string) string {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	for _, c := range fromQuery {
		if _, ok := present[c]; ok {
			return c
		}
	}
	for _, name := range countColumnNames {
		for _, c := range columns {
			if strings.EqualFold(c, name) {
				return c
			}
		}
	}
	for _, c := range columns {
		if strings.HasPrefix(strings.ToLower(c), "count") {
			return c
		}
	}
	return ""
}

func asCount(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func groupValues(columns []string, values map[string]any) map[string]any {
	if len(columns) == 0 {
		return nil
	}
	group := make(map[string]any, len(columns))
	for _, c := range columns {
		group[c] = values[c]
	}
	return group
}

// sample copies at most limit documents.
func sample(docs []map[string]any, limit int) []map[string]any {
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		cp := make(map[string]any, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func latestTimestamp(docs []map[string]any, fallback time.Time) time.Time {
	var latest time.Time
	for _, doc := range docs {
		for _, col := range timestampColumnNames {
			if ts, ok := parseTimestamp(doc[col]); ok && ts.After(latest) {
				latest = ts
			}
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}

// parseTimestamp accepts RFC3339 strings and epoch milliseconds.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) && t > 0 {
			return time.UnixMilli(int64(t)), true
		}
	case int64:
		if t > 0 {
			return time.UnixMilli(t), true
		}
	case int:
		if t > 0 {
			return time.UnixMilli(int64(t)), true
		}
	}
	return time.Time{}, false
}
