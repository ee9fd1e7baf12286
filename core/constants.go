package core

import (
	"fmt"
	"strings"
)

// Severity is the fixed severity scale shared by rules and the alerts they produce.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the fixed levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities; higher is more severe. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity normalizes case and surrounding space before validating.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("invalid severity %q: must be one of low, medium, high, critical", s)
	}
	return sev, nil
}

const (
	// MaxRiskScore is the upper bound of a rule's risk score.
	MaxRiskScore = 100

	// DefaultCategory is assigned when neither the rule nor its location names one.
	DefaultCategory = "unknown"

	// TimestampField is the event time column the backend filters on.
	TimestampField = "@timestamp"
)
