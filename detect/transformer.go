package detect

import (
	"strings"

	"argus/core"
	"argus/search"
)

// CandidateSelector chooses the concrete field used for a semantic path when
// the table declares several. Implementations must be deterministic and must
// return one of the given candidates.
type CandidateSelector interface {
	Select(semanticPath string, candidates []string) string
}

// SelectorFunc adapts a function to CandidateSelector.
type SelectorFunc func(semanticPath string, candidates []string) string

func (f SelectorFunc) Select(semanticPath string, candidates []string) string {
	return f(semanticPath, candidates)
}

// FirstCandidate picks the first declared candidate. The backend schema is
// not consulted, so a query may reference a field that is absent from the
// collection and fail later with a schema error.
type FirstCandidate struct{}

func (FirstCandidate) Select(_ string, candidates []string) string {
	return candidates[0]
}

// Resolution describes how a single path was resolved.
type Resolution int

const (
	Unmapped Resolution = iota
	Concrete
	Local
	Exact
	Prefix
)

// Substitution records one rewritten identifier.
type Substitution struct {
	Offset int    `json:"offset"`
	From   string `json:"from"`
	To     string `json:"to"`
	// Matched is the semantic path of the entry used; it differs from From
	// when only a prefix of the identifier was mapped.
	Matched string `json:"matched"`
}

// TransformResult is the rewritten query and what was done to produce it.
type TransformResult struct {
	Query         string                  `json:"query"`
	Substitutions []Substitution          `json:"substitutions"`
	Warnings      []core.TransformWarning `json:"warnings,omitempty"`
}

// Changed reports whether any identifier was rewritten.
func (r TransformResult) Changed() bool {
	return len(r.Substitutions) > 0
}

// QueryTransformer rewrites semantic field identifiers into concrete ones.
// It touches identifier tokens only, never literals, keywords or comments.
type QueryTransformer struct {
	table    *MappingTable
	selector CandidateSelector
}

// TransformerOption configures a QueryTransformer.
type TransformerOption func(*QueryTransformer)

// WithSelector replaces the FirstCandidate policy.
func WithSelector(s CandidateSelector) TransformerOption {
	return func(t *QueryTransformer) {
		if s != nil {
			t.selector = s
		}
	}
}

// NewQueryTransformer creates a transformer over table.
func NewQueryTransformer(table *MappingTable, opts ...TransformerOption) *QueryTransformer {
	t := &QueryTransformer{table: table, selector: FirstCandidate{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Table returns the mapping table used by the transformer.
func (t *QueryTransformer) Table() *MappingTable {
	return t.table
}

// Resolve maps a single field path. Paths that are already concrete, or
// that have no entry, come back unchanged.
func (t *QueryTransformer) Resolve(path string) (string, Resolution) {
	return t.resolve(path, nil)
}

func (t *QueryTransformer) resolve(path string, locals map[string]struct{}) (string, Resolution) {
	if _, ok := locals[path]; ok {
		return path, Local
	}
	if isMetaField(path) || t.table.IsConcrete(path) {
		return path, Concrete
	}
	prefix, suffix, ok := t.table.LongestPrefix(path)
	if !ok {
		return path, Unmapped
	}
	candidates := t.table.entries[prefix]
	chosen := t.selector.Select(prefix, candidates)
	if suffix == "" {
		return chosen, Exact
	}
	return chosen + suffix, Prefix
}

// Transform rewrites query. The same query and table always produce the same
// bytes, and transforming an already transformed query changes nothing.
// Unmapped identifiers are left as they are and reported as warnings.
func (t *QueryTransformer) Transform(query string) TransformResult {
	tokens := search.Lex(query)
	locals := localNames(tokens)

	result := TransformResult{Substitutions: []Substitution{}}
	warned := make(map[string]struct{})

	var b strings.Builder
	b.Grow(len(query))
	for _, tok := range tokens {
		if tok.Type != search.TokenField {
			b.WriteString(tok.Value)
			continue
		}

		path := tok.Path()
		resolved, how := t.resolve(path, locals)
		switch how {
		case Exact, Prefix:
			if resolved == path {
				b.WriteString(tok.Value)
				continue
			}
			rendered := renderIdentifier(resolved, tok.Quoted)
			b.WriteString(rendered)
			matched := path
			if how == Prefix {
				matched, _, _ = t.table.LongestPrefix(path)
			}
			result.Substitutions = append(result.Substitutions, Substitution{
				Offset:  tok.Pos,
				From:    tok.Value,
				To:      rendered,
				Matched: matched,
			})
		case Unmapped:
			b.WriteString(tok.Value)
			if _, seen := warned[path]; !seen {
				warned[path] = struct{}{}
				result.Warnings = append(result.Warnings, core.TransformWarning{
					Path:   path,
					Offset: tok.Pos,
					Reason: "no field mapping; passed through unchanged",
				})
			}
		default:
			b.WriteString(tok.Value)
		}
	}

	result.Query = b.String()
	return result
}

// localNames collects names the query defines itself (EVAL x = ..., STATS
// c = ..., RENAME a AS b, DISSECT/GROK outputs are not tracked). They are
// treated as columns of the query rather than semantic fields.
func localNames(tokens []search.Token) map[string]struct{} {
	var sig []search.Token
	for _, tok := range tokens {
		if tok.Significant() {
			sig = append(sig, tok)
		}
	}

	locals := make(map[string]struct{})
	for i, tok := range sig {
		if tok.Type != search.TokenField {
			continue
		}
		if i+1 < len(sig) && sig[i+1].Type == search.TokenOperator && sig[i+1].Value == "=" {
			locals[tok.Path()] = struct{}{}
		}
		if i > 0 && sig[i-1].Is("AS") {
			locals[tok.Path()] = struct{}{}
		}
	}
	return locals
}

// isMetaField reports fields the store defines for every document.
func isMetaField(path string) bool {
	return path == core.TimestampField || strings.HasPrefix(path, "_")
}

func renderIdentifier(path string, quoted bool) string {
	if quoted || needsQuoting(path) {
		return search.QuoteIdentifier(path)
	}
	return path
}

func needsQuoting(path string) bool {
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '@':
		default:
			return true
		}
	}
	return path == "" || (path[0] >= '0' && path[0] <= '9')
}
