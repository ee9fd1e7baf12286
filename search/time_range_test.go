package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpan(t *testing.T) {
	tests := map[string]time.Duration{
		"15 minutes": 15 * time.Minute,
		"1h":         time.Hour,
		"7d":         7 * 24 * time.Hour,
		"2 weeks":    14 * 24 * time.Hour,
		"30s":        30 * time.Second,
		"1 year":     365 * 24 * time.Hour,
	}
	for in, want := range tests {
		got, err := ParseSpan(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "minutes", "5 fortnights", "-1h"} {
		_, err := ParseSpan(bad)
		assert.Error(t, err, bad)
	}
}

func TestExtractLookback(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
		found bool
	}{
		{`FROM x | WHERE @timestamp >= NOW() - 15 minutes`, 15 * time.Minute, true},
		{`FROM x | WHERE @timestamp > NOW() - 1h AND a == 1`, time.Hour, true},
		{`FROM x | WHERE NOW() - 24 hours <= @timestamp`, 24 * time.Hour, true},
		{`FROM x | WHERE @timestamp > NOW() - "2 days"::time_duration`, 48 * time.Hour, true},
		{`FROM x | WHERE @timestamp > NOW() - 5 minutes OR @timestamp > NOW() - 1 hour`, time.Hour, true},
		{`FROM x | WHERE a == 1`, 0, false},
		{`FROM x | WHERE @timestamp < NOW() - 1 hour`, 0, false},
		{`FROM x | WHERE message == "@timestamp > NOW() - 1 hour"`, 0, false},
	}
	for _, tt := range tests {
		got, found := ExtractLookback(Lex(tt.query), "@timestamp")
		assert.Equal(t, tt.found, found, tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}
