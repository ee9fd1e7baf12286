package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() Rule {
	return Rule{
		ID:               "r-1",
		Name:             "Admin logon",
		Severity:         SeverityHigh,
		RiskScore:        73,
		Index:            []string{"winlogbeat-*"},
		Query:            `FROM winlogbeat-* | WHERE user.name == "admin"`,
		ScheduleInterval: "5m",
	}
}

func TestRuleValidate_Valid(t *testing.T) {
	require.NoError(t, validRule().Validate())
}

func TestRuleValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rule)
		field  string
	}{
		{"missing id", func(r *Rule) { r.ID = "" }, "id"},
		{"missing name", func(r *Rule) { r.Name = "" }, "name"},
		{"missing query", func(r *Rule) { r.Query = "" }, "query"},
		{"blank query", func(r *Rule) { r.Query = "   \n" }, "query"},
		{"missing severity", func(r *Rule) { r.Severity = "" }, "severity"},
		{"unknown severity", func(r *Rule) { r.Severity = "urgent" }, "severity"},
		{"risk too high", func(r *Rule) { r.RiskScore = 101 }, "risk_score"},
		{"risk negative", func(r *Rule) { r.RiskScore = -1 }, "risk_score"},
		{"empty index entry", func(r *Rule) { r.Index = []string{"logs-*", ""} }, "index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected a ValidationError, got %T", err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRuleValidate_MultipleReasonsJoined(t *testing.T) {
	err := Rule{Severity: "bogus"}.Validate()
	require.Error(t, err)
	for _, field := range []string{"id", "name", "query", "severity"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, sev)

	_, err = ParseSeverity("warning")
	assert.Error(t, err)

	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Zero(t, Severity("nope").Rank())
}

func TestRuleSchedule(t *testing.T) {
	tests := []struct {
		interval   string
		want       time.Duration
		unreadable bool
	}{
		{"5m", 5 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"15 minutes", 15 * time.Minute, false},
		{"", 0, false},
		{"often", 0, true},
		{"-5m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			r := validRule()
			r.ScheduleInterval = tt.interval
			assert.Equal(t, tt.want, r.Schedule())
			assert.Equal(t, tt.unreadable, r.HasUnreadableSchedule())
		})
	}
}

func TestRuleValidate_ScheduleIsAdvisory(t *testing.T) {
	for _, interval := range []string{"1d", "often", "-1h"} {
		r := validRule()
		r.ScheduleInterval = interval
		assert.NoError(t, r.Validate(), interval)
	}
}

func TestRuleClone_DoesNotAlias(t *testing.T) {
	r := validRule()
	r.Tags = []string{"auth"}
	r.MitreAttack = map[string]any{"technique": "T1078"}

	c := r.Clone()
	c.Tags[0] = "changed"
	c.Index[0] = "other-*"
	c.MitreAttack["technique"] = "T0000"

	assert.Equal(t, "auth", r.Tags[0])
	assert.Equal(t, "winlogbeat-*", r.Index[0])
	assert.Equal(t, "T1078", r.MitreAttack["technique"])
}
