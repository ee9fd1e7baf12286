package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMappingTable_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []MappingEntry
	}{
		{"empty path", []MappingEntry{{SemanticPath: "", Candidates: []string{"a"}}}},
		{"empty segment", []MappingEntry{{SemanticPath: "user..name", Candidates: []string{"a"}}}},
		{"no candidates", []MappingEntry{{SemanticPath: "user.name"}}},
		{"blank candidate", []MappingEntry{{SemanticPath: "user.name", Candidates: []string{" "}}}},
		{"duplicate", []MappingEntry{
			{SemanticPath: "user.name", Candidates: []string{"a"}},
			{SemanticPath: "user.name", Candidates: []string{"b"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMappingTable(tt.entries)
			assert.Error(t, err)
		})
	}
}

func TestMappingTable_LongestPrefix(t *testing.T) {
	table, err := NewMappingTable([]MappingEntry{
		{SemanticPath: "process", Candidates: []string{"winlog.process"}},
		{SemanticPath: "process.parent", Candidates: []string{"winlog.parent"}},
	})
	require.NoError(t, err)

	prefix, suffix, ok := table.LongestPrefix("process.parent.name")
	require.True(t, ok)
	assert.Equal(t, "process.parent", prefix)
	assert.Equal(t, ".name", suffix)

	prefix, suffix, ok = table.LongestPrefix("process")
	require.True(t, ok)
	assert.Equal(t, "process", prefix)
	assert.Empty(t, suffix)

	_, _, ok = table.LongestPrefix("processes.name")
	assert.False(t, ok)
}

func TestMappingTable_IsConcrete(t *testing.T) {
	table := DefaultMappingTable()

	assert.True(t, table.IsConcrete("winlog.event_data.TargetUserName"))
	assert.True(t, table.IsConcrete("winlog.event_data.TargetUserName.keyword"))
	assert.True(t, table.IsConcrete("winlog.event_data.SomethingUnlisted"))
	assert.True(t, table.IsConcrete("event.code"), "self-mapped paths are concrete")
	assert.False(t, table.IsConcrete("user.name"))
	assert.False(t, table.IsConcrete("user.name.keyword"))
	assert.False(t, table.IsConcrete("totally.unknown"))
}

func TestMappingTable_LookupReturnsCopy(t *testing.T) {
	table := DefaultMappingTable()

	c, ok := table.Lookup("user.name")
	require.True(t, ok)
	require.NotEmpty(t, c)
	c[0] = "mutated"

	again, _ := table.Lookup("user.name")
	assert.Equal(t, "winlog.event_data.TargetUserName", again[0])
}

func TestMappingTable_Merge(t *testing.T) {
	base := DefaultMappingTable()
	merged, err := base.Merge([]MappingEntry{
		{SemanticPath: "user.name", Candidates: []string{"winlog.user.name"}},
		{SemanticPath: "custom.field", Candidates: []string{"winlog.event_data.Custom"}},
	})
	require.NoError(t, err)

	c, _ := merged.Lookup("user.name")
	assert.Equal(t, []string{"winlog.user.name"}, c)
	assert.Equal(t, base.Len()+1, merged.Len())

	orig, _ := base.Lookup("user.name")
	assert.Equal(t, "winlog.event_data.TargetUserName", orig[0], "merge must not modify the receiver")
}

func TestMappingTable_CoalesceExpression(t *testing.T) {
	table, err := NewMappingTable([]MappingEntry{
		{SemanticPath: "user.name", Candidates: []string{"a.b", "c.d"}},
		{SemanticPath: "host.name", Candidates: []string{"e.f"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "COALESCE(a.b, c.d)", table.CoalesceExpression("user.name"))
	assert.Equal(t, "e.f", table.CoalesceExpression("host.name"))
	assert.Equal(t, "x.y", table.CoalesceExpression("x.y"))
}

func TestMappingTable_EntriesSorted(t *testing.T) {
	entries := DefaultMappingTable().Entries()
	require.NotEmpty(t, entries)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].SemanticPath, entries[i].SemanticPath)
	}
}

func TestParseMappings(t *testing.T) {
	data := []byte(`
mappings:
  - semantic_path: user.name
    candidates: [winlog.event_data.TargetUserName]
  - semantic_path: source.ip
    candidates:
      - winlog.event_data.IpAddress
      - winlog.event_data.SourceAddress
`)
	entries, err := ParseMappings(data)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "source.ip", entries[1].SemanticPath)
	assert.Len(t, entries[1].Candidates, 2)
}

func TestParseMappings_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing mappings", "other: 1\n"},
		{"missing candidates", "mappings:\n  - semantic_path: user.name\n"},
		{"empty candidates", "mappings:\n  - semantic_path: user.name\n    candidates: []\n"},
		{"unknown key", "mappings:\n  - semantic_path: user.name\n    candidates: [a]\n    extra: true\n"},
		{"bad path", "mappings:\n  - semantic_path: \"user name\"\n    candidates: [a]\n"},
		{"not yaml", "mappings: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMappings([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadMappingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "field_mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mappings:\n  - semantic_path: host.name\n    candidates: [winlog.computer_name]\n"), 0o600))

	entries, err := LoadMappingFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "host.name", entries[0].SemanticPath)

	_, err = LoadMappingFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultMappingTable_Valid(t *testing.T) {
	table := DefaultMappingTable()
	assert.Greater(t, table.Len(), 30)
	for _, e := range table.Entries() {
		assert.NotEmpty(t, e.Candidates, e.SemanticPath)
	}
}
