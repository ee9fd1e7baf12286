package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DedupKey derives the identity used to suppress repeated alerts for the same
// condition: the rule, its grouping column values and the match time floored
// to bucket. Group keys are sorted so map iteration order never leaks in.
func DedupKey(ruleID string, group map[string]any, ts time.Time, bucket time.Duration) string {
	parts := make([]string, 0, len(group)+2)
	parts = append(parts, "rule="+ruleID)

	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, stringify(group[k])))
	}

	parts = append(parts, "bucket="+FloorTime(ts, bucket).UTC().Format(time.RFC3339))
	return hash(joinParts(parts))
}

// FloorTime truncates t to a multiple of width in UTC, with the semantics of
// time.Time.Truncate. A non-positive width leaves t unchanged.
func FloorTime(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return t
	}
	return t.UTC().Truncate(width)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = stringify(item)
		}
		return "[" + strings.Join(items, ",") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func hash(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// joinParts joins parts with a separator that is escaped inside each part,
// so ("a|b", "c") and ("a", "b|c") produce different keys.
func joinParts(parts []string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strings.ReplaceAll(part, "|", `\|`))
	}
	return b.String()
}
