package detect

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingEntry maps one semantic field path to its concrete candidates, in
// preference order.
type MappingEntry struct {
	SemanticPath string   `yaml:"semantic_path" json:"semantic_path"`
	Candidates   []string `yaml:"candidates" json:"candidates"`
}

// mappingFile is the on-disk layout of a mapping file.
type mappingFile struct {
	Mappings []MappingEntry `yaml:"mappings" json:"mappings"`
}

// MappingTable resolves semantic field paths to concrete ones. A table is
// immutable after construction and safe for concurrent use.
type MappingTable struct {
	entries    map[string][]string
	concrete   map[string]struct{}
	namespaces map[string]struct{}
}

// NewMappingTable validates entries and builds a table. Semantic paths must
// be unique and every entry needs at least one non-empty candidate.
func NewMappingTable(entries []MappingEntry) (*MappingTable, error) {
	t := &MappingTable{
		entries:    make(map[string][]string, len(entries)),
		concrete:   make(map[string]struct{}),
		namespaces: make(map[string]struct{}),
	}
	for _, e := range entries {
		path := strings.TrimSpace(e.SemanticPath)
		if err := validatePath(path); err != nil {
			return nil, fmt.Errorf("invalid semantic path %q: %w", e.SemanticPath, err)
		}
		if _, dup := t.entries[path]; dup {
			return nil, fmt.Errorf("duplicate mapping for semantic path %q", path)
		}
		if len(e.Candidates) == 0 {
			return nil, fmt.Errorf("mapping for %q has no candidates", path)
		}
		candidates := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			c = strings.TrimSpace(c)
			if err := validatePath(c); err != nil {
				return nil, fmt.Errorf("invalid candidate %q for %q: %w", c, path, err)
			}
			candidates = append(candidates, c)
			t.concrete[c] = struct{}{}
			if i := strings.LastIndexByte(c, '.'); i > 0 {
				t.namespaces[c[:i]] = struct{}{}
			}
		}
		t.entries[path] = candidates
	}
	return t, nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if strings.ContainsAny(path, " \t\r\n`") {
		return fmt.Errorf("path contains whitespace or backticks")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("path has an empty segment")
		}
	}
	return nil
}

// Lookup returns the candidates declared for an exact semantic path.
func (t *MappingTable) Lookup(path string) ([]string, bool) {
	c, ok := t.entries[path]
	if !ok {
		return nil, false
	}
	return append([]string(nil), c...), true
}

// LongestPrefix finds the longest dot-segment prefix of path that has an
// entry, trying the whole path first. It returns the matched prefix and the
// unmatched suffix (including its leading dot).
func (t *MappingTable) LongestPrefix(path string) (prefix string, suffix string, ok bool) {
	for end := len(path); end > 0; {
		candidate := path[:end]
		if _, found := t.entries[candidate]; found {
			return candidate, path[end:], true
		}
		end = strings.LastIndexByte(candidate, '.')
	}
	return "", "", false
}

// IsConcrete reports whether path is a concrete field known to the table: a
// declared candidate, a sub-field of one, or a field inside the namespace of
// one (winlog.event_data.* when winlog.event_data.TargetUserName is a
// candidate). Semantic paths are never treated as concrete by namespace alone.
func (t *MappingTable) IsConcrete(path string) bool {
	if _, ok := t.concrete[path]; ok {
		return true
	}
	for end := strings.LastIndexByte(path, '.'); end > 0; end = strings.LastIndexByte(path[:end], '.') {
		if _, ok := t.concrete[path[:end]]; ok {
			return true
		}
	}
	if _, semantic := t.entries[path]; semantic {
		return false
	}
	for end := strings.LastIndexByte(path, '.'); end > 0; end = strings.LastIndexByte(path[:end], '.') {
		if _, ok := t.namespaces[path[:end]]; ok {
			return true
		}
	}
	return false
}

// Entries returns every entry sorted by semantic path.
func (t *MappingTable) Entries() []MappingEntry {
	out := make([]MappingEntry, 0, len(t.entries))
	for path, c := range t.entries {
		out = append(out, MappingEntry{SemanticPath: path, Candidates: append([]string(nil), c...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SemanticPath < out[j].SemanticPath })
	return out
}

// Len returns the number of semantic paths in the table.
func (t *MappingTable) Len() int {
	return len(t.entries)
}

// Merge returns a new table holding t's entries with overrides applied on
// top. An override replaces the whole candidate list of its semantic path.
func (t *MappingTable) Merge(overrides []MappingEntry) (*MappingTable, error) {
	byPath := make(map[string]MappingEntry, len(t.entries)+len(overrides))
	for _, e := range t.Entries() {
		byPath[e.SemanticPath] = e
	}
	for _, e := range overrides {
		byPath[strings.TrimSpace(e.SemanticPath)] = e
	}
	merged := make([]MappingEntry, 0, len(byPath))
	for _, e := range byPath {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].SemanticPath < merged[j].SemanticPath })
	return NewMappingTable(merged)
}

// CoalesceExpression renders COALESCE(c1, c2, ...) over every candidate of
// path, or the single candidate when there is only one. Unmapped paths are
// returned unchanged.
func (t *MappingTable) CoalesceExpression(path string) string {
	c, ok := t.entries[path]
	if !ok {
		return path
	}
	if len(c) == 1 {
		return c[0]
	}
	return "COALESCE(" + strings.Join(c, ", ") + ")"
}

// maxMappingFileSize guards against oversized or hostile documents.
const maxMappingFileSize = 5 * 1024 * 1024

// LoadMappingFile reads a YAML mapping file, validates it against the mapping
// schema and returns its entries.
func LoadMappingFile(path string) ([]MappingEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field mappings %q: %w", path, err)
	}
	return ParseMappings(data)
}

// ParseMappings decodes and validates mapping file contents.
func ParseMappings(data []byte) ([]MappingEntry, error) {
	if len(data) > maxMappingFileSize {
		return nil, fmt.Errorf("field mappings exceed maximum size of %d bytes", maxMappingFileSize)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse field mappings YAML: %w", err)
	}
	if err := validateMappingDocument(doc); err != nil {
		return nil, err
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode field mappings: %w", err)
	}
	return file.Mappings, nil
}
