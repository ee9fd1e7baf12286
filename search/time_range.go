package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spanPattern = regexp.MustCompile(`^(\d+)\s*([a-zA-Z]+)$`)

// ParseSpan parses a time span such as "15 minutes", "1h" or "7d".
// Months, quarters and years are approximated as 30, 90 and 365 days.
func ParseSpan(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	m := spanPattern.FindStringSubmatch(expr)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid time span %q (expected format: '15 minutes' or '1h')", expr)
	}

	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time span amount: %s", m[1])
	}
	unit, err := unitDuration(m[2])
	if err != nil {
		return 0, err
	}
	return time.Duration(amount) * unit, nil
}

func unitDuration(unit string) (time.Duration, error) {
	switch strings.ToLower(unit) {
	case "ms", "millisecond", "milliseconds":
		return time.Millisecond, nil
	case "s", "sec", "second", "seconds":
		return time.Second, nil
	case "m", "min", "minute", "minutes":
		return time.Minute, nil
	case "h", "hour", "hours":
		return time.Hour, nil
	case "d", "day", "days":
		return 24 * time.Hour, nil
	case "w", "week", "weeks":
		return 7 * 24 * time.Hour, nil
	case "mo", "month", "months":
		return 30 * 24 * time.Hour, nil
	case "q", "quarter", "quarters":
		return 90 * 24 * time.Hour, nil
	case "y", "yr", "year", "years":
		return 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported time unit: %s", unit)
	}
}

// ExtractLookback finds the query's own lower bound on field expressed
// relative to NOW(), as in `@timestamp > NOW() - 15 minutes` or
// `NOW() - 1 hour <= @timestamp`, and returns the widest span found.
// It reports false when the query has no such predicate.
func ExtractLookback(tokens []Token, field string) (time.Duration, bool) {
	sig := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Significant() {
			sig = append(sig, t)
		}
	}

	var widest time.Duration
	found := false
	record := func(d time.Duration) {
		if !found || d > widest {
			widest = d
		}
		found = true
	}

	for i := 0; i < len(sig); i++ {
		if !isFieldNamed(sig[i], field) {
			continue
		}
		// field > NOW() - span
		if i+1 < len(sig) && isOperator(sig[i+1], ">", ">=") {
			if d, _, ok := parseNowMinus(sig, i+2); ok {
				record(d)
			}
		}
		// NOW() - span < field
		if i >= 1 && isOperator(sig[i-1], "<", "<=") {
			for start := i - 2; start >= 0 && start >= i-8; start-- {
				if !sig[start].Is("NOW") {
					continue
				}
				if d, end, ok := parseNowMinus(sig, start); ok && end == i-1 {
					record(d)
				}
				break
			}
		}
	}
	return widest, found
}

// parseNowMinus matches NOW ( ) - span starting at sig[i] and returns the span
// and the index just past it.
func parseNowMinus(sig []Token, i int) (time.Duration, int, bool) {
	if i+3 >= len(sig) || !sig[i].Is("NOW") || !isDelim(sig[i+1], "(") || !isDelim(sig[i+2], ")") || !isOperator(sig[i+3], "-") {
		return 0, 0, false
	}
	return parseSpanTokens(sig, i+4)
}

func parseSpanTokens(sig []Token, i int) (time.Duration, int, bool) {
	if i >= len(sig) || sig[i].Type != TokenLiteral {
		return 0, 0, false
	}
	lit := sig[i].Value

	// "15 minutes" or "15 minutes"::time_duration
	if strings.HasPrefix(lit, `"`) {
		d, err := ParseSpan(strings.Trim(lit, `"`))
		if err != nil {
			return 0, 0, false
		}
		end := i + 1
		if end+1 < len(sig) && isOperator(sig[end], "::") {
			end += 2
		}
		return d, end, true
	}

	// 15 minutes
	if i+1 < len(sig) && sig[i+1].Type == TokenKeyword {
		if d, err := ParseSpan(lit + " " + sig[i+1].Value); err == nil {
			return d, i + 2, true
		}
	}

	// 15m
	if d, err := ParseSpan(lit); err == nil {
		return d, i + 1, true
	}
	return 0, 0, false
}

func isFieldNamed(t Token, field string) bool {
	return t.Type == TokenField && t.Path() == field
}

func isOperator(t Token, ops ...string) bool {
	if t.Type != TokenOperator {
		return false
	}
	for _, op := range ops {
		if t.Value == op {
			return true
		}
	}
	return false
}

func isDelim(t Token, d string) bool {
	return t.Type == TokenDelimiter && t.Value == d
}
