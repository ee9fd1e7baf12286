package core

import (
	"time"
)

// Alert is a single detection produced by executing a rule.
// Severity, RiskScore, Category and Tags are copied from the rule when the
// alert is created and do not follow later rule changes.
type Alert struct {
	ID          string           `json:"id"`
	RuleID      string           `json:"rule_id"`
	RuleName    string           `json:"rule_name"`
	Timestamp   time.Time        `json:"timestamp"`
	Severity    Severity         `json:"severity"`
	RiskScore   int              `json:"risk_score"`
	Category    string           `json:"category"`
	Description string           `json:"description,omitempty"`
	LogCount    int              `json:"log_count"`
	MatchedLogs []map[string]any `json:"matched_logs"`
	Tags        []string         `json:"tags,omitempty"`
	Group       map[string]any   `json:"group,omitempty"`
	DedupKey    string           `json:"dedup_key"`
	CreatedAt   time.Time        `json:"created_at"`
}

// AlertFilter narrows a listing. Zero values match everything.
type AlertFilter struct {
	Severity Severity  `json:"severity,omitempty"`
	RuleID   string    `json:"rule_id,omitempty"`
	Category string    `json:"category,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Offset   int       `json:"offset,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Matches reports whether the alert passes every set criterion. Offset and
// Limit are applied by the caller.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.RuleID != "" && a.RuleID != f.RuleID {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Clone returns a copy whose slices and maps are not shared with the original.
// Matched log documents are copied one level deep.
func (a Alert) Clone() Alert {
	out := a
	out.Tags = append([]string(nil), a.Tags...)
	if a.Group != nil {
		out.Group = make(map[string]any, len(a.Group))
		for k, v := range a.Group {
			out.Group[k] = v
		}
	}
	if a.MatchedLogs != nil {
		out.MatchedLogs = make([]map[string]any, len(a.MatchedLogs))
		for i, doc := range a.MatchedLogs {
			cp := make(map[string]any, len(doc))
			for k, v := range doc {
				cp[k] = v
			}
			out.MatchedLogs[i] = cp
		}
	}
	return out
}
