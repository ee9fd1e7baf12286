package service

import (
	"fmt"
	"sort"
	"time"

	"argus/core"
)

// ============================================================================
// Types
// ============================================================================

// DefaultSourceDimension is the field TopSources reads when none is configured.
const DefaultSourceDimension = "source.ip"

// MaxTimelineBuckets bounds a single timeline request.
const MaxTimelineBuckets = 10_000

// RuleTotals counts loaded rule definitions.
type RuleTotals struct {
	Total      int                   `json:"total"`
	Enabled    int                   `json:"enabled"`
	Disabled   int                   `json:"disabled"`
	ByCategory map[string]int        `json:"by_category"`
	BySeverity map[core.Severity]int `json:"by_severity"`
}

// AlertTotals counts stored alerts.
type AlertTotals struct {
	Total      int                   `json:"total"`
	BySeverity map[core.Severity]int `json:"by_severity"`
	ByCategory map[string]int        `json:"by_category"`
}

// Snapshot is the dashboard summary, derived on demand.
type Snapshot struct {
	Rules         RuleTotals  `json:"rules"`
	Alerts        AlertTotals `json:"alerts"`
	RejectedRules int         `json:"rejected_rules"`
}

// TimelineBucket counts alerts whose timestamp falls in [Start, Start+width).
type TimelineBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Count is one entry of a breakdown.
type Count struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Count int    `json:"count"`
}

// ============================================================================
// Aggregations
// ============================================================================

// ComputeRuleTotals counts rules by state, category and severity. Every
// severity is present in BySeverity.
func ComputeRuleTotals(rules []core.Rule) RuleTotals {
	totals := RuleTotals{
		Total:      len(rules),
		ByCategory: make(map[string]int),
		BySeverity: zeroSeverities(),
	}
	for _, r := range rules {
		if r.Enabled {
			totals.Enabled++
		} else {
			totals.Disabled++
		}
		totals.ByCategory[r.Category]++
		totals.BySeverity[r.Severity]++
	}
	return totals
}

// ComputeAlertTotals counts alerts by severity and category.
func ComputeAlertTotals(alerts []core.Alert) AlertTotals {
	totals := AlertTotals{
		Total:      len(alerts),
		BySeverity: zeroSeverities(),
		ByCategory: make(map[string]int),
	}
	for i := range alerts {
		totals.BySeverity[alerts[i].Severity]++
		totals.ByCategory[alerts[i].Category]++
	}
	return totals
}

// ComputeSnapshot combines rule and alert totals.
func ComputeSnapshot(rules []core.Rule, alerts []core.Alert, rejected int) Snapshot {
	return Snapshot{
		Rules:         ComputeRuleTotals(rules),
		Alerts:        ComputeAlertTotals(alerts),
		RejectedRules: rejected,
	}
}

func zeroSeverities() map[core.Severity]int {
	m := make(map[core.Severity]int, len(core.Severities))
	for _, s := range core.Severities {
		m[s] = 0
	}
	return m
}

// Timeline buckets alerts over [now-lookback, now). Buckets are aligned to
// multiples of width, contiguous and include empty ones; the first bucket
// starts at or before now-lookback. Alerts outside the range are ignored.
func Timeline(alerts []core.Alert, now time.Time, lookback, width time.Duration) ([]TimelineBucket, error) {
	if lookback <= 0 || width <= 0 {
		return nil, fmt.Errorf("lookback and bucket width must be positive")
	}
	from := now.Add(-lookback)
	start := core.FloorTime(from, width)
	n := int((now.Sub(start) + width - 1) / width)
	if n > MaxTimelineBuckets {
		return nil, fmt.Errorf("timeline of %d buckets exceeds the limit of %d", n, MaxTimelineBuckets)
	}

	buckets := make([]TimelineBucket, n)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * width)
	}
	for i := range alerts {
		ts := alerts[i].Timestamp
		if ts.Before(from) || !ts.Before(now) {
			continue
		}
		idx := int(ts.Sub(start) / width)
		if idx >= 0 && idx < n {
			buckets[idx].Count++
		}
	}
	return buckets, nil
}

// BySeverity returns one entry per severity, most severe first, zeros included.
func BySeverity(alerts []core.Alert) []Count {
	totals := ComputeAlertTotals(alerts).BySeverity
	out := make([]Count, 0, len(core.Severities))
	for _, s := range core.Severities {
		out = append(out, Count{Key: string(s), Count: totals[s]})
	}
	return out
}

// ByCategory counts alerts per category, largest first, ties by name.
func ByCategory(alerts []core.Alert) []Count {
	counts := make(map[string]int)
	for i := range alerts {
		counts[alerts[i].Category]++
	}
	return sortCounts(counts, nil, 0)
}

// TopRules returns the n rules with the most alerts, ties by rule id. A
// non-positive n returns all.
func TopRules(alerts []core.Alert, n int) []Count {
	counts := make(map[string]int)
	names := make(map[string]string)
	for i := range alerts {
		counts[alerts[i].RuleID]++
		names[alerts[i].RuleID] = alerts[i].RuleName
	}
	return sortCounts(counts, names, n)
}

// TopSources returns the n most frequent source values. Each alert is read
// through fields in order, first from its group values and then from its
// matched logs; one alert counts each distinct value once.
func TopSources(alerts []core.Alert, n int, fields []string) []Count {
	counts := make(map[string]int)
	for i := range alerts {
		for v := range alertSources(&alerts[i], fields) {
			counts[v]++
		}
	}
	return sortCounts(counts, nil, n)
}

func alertSources(a *core.Alert, fields []string) map[string]struct{} {
	seen := make(map[string]struct{})
	add := func(doc map[string]any) bool {
		for _, f := range fields {
			if v, ok := doc[f]; ok && v != nil {
				s := fmt.Sprint(v)
				if s != "" {
					seen[s] = struct{}{}
					return true
				}
			}
		}
		return false
	}
	if a.Group != nil && add(a.Group) {
		return seen
	}
	for _, doc := range a.MatchedLogs {
		add(doc)
	}
	return seen
}

func sortCounts(counts map[string]int, labels map[string]string, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Label: labels[k], Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// SourceFields returns the fields TopSources reads for dimension: the field
// itself, its underscore spelling and its concrete candidates.
func SourceFields(dimension string, candidates []string) []string {
	if dimension == "" {
		dimension = DefaultSourceDimension
	}
	fields := []string{dimension}
	seen := map[string]struct{}{dimension: {}}
	add := func(f string) {
		if _, dup := seen[f]; !dup {
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	underscored := []byte(dimension)
	for i, c := range underscored {
		if c == '.' {
			underscored[i] = '_'
		}
	}
	add(string(underscored))
	for _, c := range candidates {
		add(c)
	}
	return fields
}
