package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"argus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeRule(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

const bruteForceRule = `
name: Brute force logon
description: Many failed logons for one account
severity: high
risk_score: 73
index: ["winlogbeat-*"]
enabled: true
tags: [credential-access]
query: |
  FROM winlogbeat-* | WHERE event.code == "4625" AND @timestamp >= NOW() - 15 minutes
  | STATS failures = COUNT(*) BY user.name | WHERE failures > 5
`

func TestLoadRuleDir(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "NIST/brute_force.yml", bruteForceRule)
	writeRule(t, root, "GDPR/explicit.yaml", "id: gdpr-001\nname: Explicit\nseverity: low\nrisk_score: 10\nindex: [logs-*]\nquery: FROM logs-* | LIMIT 10\n")
	writeRule(t, root, "root_rule.yml", "name: Root\nseverity: medium\nquery: FROM logs-*\n")
	writeRule(t, root, "NIST/bad_severity.yml", "name: Bad\nseverity: urgent\nquery: FROM logs-*\n")
	writeRule(t, root, "NIST/no_query.yml", "name: No query\nseverity: low\n")
	writeRule(t, root, "NIST/broken.yml", "name: [unterminated\n")
	writeRule(t, root, "NIST/README.md", "not a rule")

	result, err := LoadRuleDir(root, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	assert.Equal(t, 6, result.Files)
	require.Len(t, result.Rules, 3)
	require.Len(t, result.Rejected, 3)

	byName := make(map[string]core.Rule)
	for _, r := range result.Rules {
		byName[r.Name] = r
	}

	bf := byName["Brute force logon"]
	assert.Equal(t, DeriveRuleID("NIST/brute_force.yml", "Brute force logon"), bf.ID)
	assert.Len(t, bf.ID, 12)
	assert.Equal(t, "NIST", bf.Category)
	assert.Equal(t, core.SeverityHigh, bf.Severity)
	assert.Equal(t, 73, bf.RiskScore)
	assert.True(t, bf.Enabled)
	assert.Equal(t, "NIST/brute_force.yml", bf.SourcePath)

	assert.Equal(t, "gdpr-001", byName["Explicit"].ID)
	assert.Equal(t, "GDPR", byName["Explicit"].Category)
	assert.False(t, byName["Explicit"].Enabled)
	assert.Equal(t, core.DefaultCategory, byName["Root"].Category)

	reasons := make(map[string]string)
	for _, r := range result.Rejected {
		reasons[r.Source] = r.Reason
	}
	assert.Contains(t, reasons["NIST/bad_severity.yml"], "severity")
	assert.Contains(t, reasons["NIST/no_query.yml"], "query")
	assert.Contains(t, reasons["NIST/broken.yml"], "YAML")
}

func TestLoadRuleDir_MissingRoot(t *testing.T) {
	_, err := LoadRuleDir(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestLoadRuleDir_StableIDs(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "PCI/a.yml", bruteForceRule)

	logger := zaptest.NewLogger(t).Sugar()
	first, err := LoadRuleDir(root, logger)
	require.NoError(t, err)
	second, err := LoadRuleDir(root, logger)
	require.NoError(t, err)

	require.Len(t, first.Rules, 1)
	assert.Equal(t, first.Rules[0].ID, second.Rules[0].ID)
}

func TestParseRule_EmptyFile(t *testing.T) {
	_, err := ParseRule("x.yml", []byte("  \n"))
	assert.EqualError(t, err, "empty rule file")
}

func TestParseRule_KeepsIdentityOnValidationFailure(t *testing.T) {
	rule, err := ParseRule("NIST/x.yml", []byte("id: r-1\nname: X\nseverity: high\nrisk_score: 150\nquery: FROM a\n"))
	require.Error(t, err)
	assert.Equal(t, "r-1", rule.ID)
	assert.Contains(t, err.Error(), "risk_score")
}

func TestParseRule_DaySchedule(t *testing.T) {
	rule, err := ParseRule("NIST/r.yml", []byte("name: Daily\nseverity: low\nschedule_interval: 1d\nquery: FROM logs-*\n"))
	require.NoError(t, err)
	assert.Equal(t, "1d", rule.ScheduleInterval)
	assert.Equal(t, 24*time.Hour, rule.Schedule())
}

func TestLoadRuleDir_UnreadableScheduleIsIgnored(t *testing.T) {
	root := t.TempDir()
	writeRule(t, root, "NIST/daily.yml", "name: Daily\nseverity: low\nschedule_interval: 1d\nquery: FROM logs-*\n")
	writeRule(t, root, "NIST/vague.yml", "name: Vague\nseverity: low\nschedule_interval: often\nquery: FROM logs-*\n")

	result, err := LoadRuleDir(root, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Empty(t, result.Rejected)
	require.Len(t, result.Rules, 2)

	byName := make(map[string]core.Rule)
	for _, r := range result.Rules {
		byName[r.Name] = r
	}
	assert.Equal(t, 24*time.Hour, byName["Daily"].Schedule())
	assert.Empty(t, byName["Vague"].ScheduleInterval)
	assert.Zero(t, byName["Vague"].Schedule())
}

func TestCategoryFromPath(t *testing.T) {
	assert.Equal(t, "NIST", CategoryFromPath("NIST/sub/rule.yml"))
	assert.Equal(t, core.DefaultCategory, CategoryFromPath("rule.yml"))
}

func TestDeriveRuleID_KnownValue(t *testing.T) {
	id := DeriveRuleID("a.yml", "Rule")
	assert.Equal(t, "fdbdde22cef8", id)
	assert.NotEqual(t, id, DeriveRuleID("b.yml", "Rule"))
}
