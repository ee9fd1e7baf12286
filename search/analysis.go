package search

import (
	"strings"
)

// Command is one pipe-separated processing command of a query.
type Command struct {
	// Name is the upper-cased leading keyword, empty if the command does not
	// start with one.
	Name   string
	Tokens []Token
}

// SplitCommands groups tokens by top-level pipes. Pipe tokens are dropped.
func SplitCommands(tokens []Token) []Command {
	var cmds []Command
	var cur []Token
	depth := 0

	flush := func() {
		cmd := Command{Tokens: cur}
		for _, t := range cur {
			if !t.Significant() {
				continue
			}
			if t.Type == TokenKeyword {
				cmd.Name = strings.ToUpper(t.Value)
			}
			break
		}
		cmds = append(cmds, cmd)
		cur = nil
	}

	for _, t := range tokens {
		if t.Type == TokenDelimiter {
			switch t.Value {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				if depth > 0 {
					depth--
				}
			case "|":
				if depth == 0 {
					flush()
					continue
				}
			}
		}
		cur = append(cur, t)
	}
	flush()
	return cmds
}

// HasSourceCommand reports whether the query starts with a source command
// (FROM, ROW or SHOW).
func HasSourceCommand(tokens []Token) bool {
	for _, t := range tokens {
		if !t.Significant() {
			continue
		}
		return t.Is("FROM") || t.Is("ROW") || t.Is("SHOW")
	}
	return false
}

// Sources returns the collection patterns named by the query's FROM command.
func Sources(tokens []Token) []string {
	var out []string
	for _, t := range tokens {
		if t.Type == TokenSource {
			out = append(out, t.Value)
		}
		if t.Type == TokenDelimiter && t.Value == "|" {
			break
		}
	}
	return out
}

// EnsureSource prefixes query with a FROM command over collections when it
// has no source command of its own. It reports whether it changed the query.
func EnsureSource(query string, collections []string) (string, bool) {
	if len(collections) == 0 || HasSourceCommand(Lex(query)) {
		return query, false
	}
	trimmed := strings.TrimLeft(query, " \t\r\n")
	trimmed = strings.TrimPrefix(trimmed, "|")
	return "FROM " + strings.Join(collections, ", ") + " | " + strings.TrimLeft(trimmed, " \t\r\n"), true
}

// IsAggregating reports whether any command of the query is a STATS command,
// in which case every result row is an aggregate group.
func IsAggregating(tokens []Token) bool {
	for _, cmd := range SplitCommands(tokens) {
		if cmd.Name == "STATS" || cmd.Name == "INLINESTATS" {
			return true
		}
	}
	return false
}

// GroupingColumns returns the output column names of the BY clause of the
// query's last STATS command. An aliased grouping (alias = expr) yields the
// alias; an unaliased expression yields its source text, which is how ES|QL
// names such columns.
func GroupingColumns(tokens []Token) []string {
	var stats *Command
	cmds := SplitCommands(tokens)
	for i := range cmds {
		if cmds[i].Name == "STATS" || cmds[i].Name == "INLINESTATS" {
			stats = &cmds[i]
		}
	}
	if stats == nil {
		return nil
	}

	byIdx := -1
	depth := 0
	for i, t := range stats.Tokens {
		depth = trackDepth(t, depth)
		if depth == 0 && t.Is("BY") {
			byIdx = i
		}
	}
	if byIdx < 0 {
		return nil
	}

	var cols []string
	var item []Token
	depth = 0
	for _, t := range stats.Tokens[byIdx+1:] {
		if depth == 0 && t.Type == TokenDelimiter && t.Value == "," {
			if col := groupingColumn(item); col != "" {
				cols = append(cols, col)
			}
			item = nil
			continue
		}
		depth = trackDepth(t, depth)
		item = append(item, t)
	}
	if col := groupingColumn(item); col != "" {
		cols = append(cols, col)
	}
	return cols
}

func groupingColumn(item []Token) string {
	var sig []Token
	for _, t := range item {
		if t.Significant() {
			sig = append(sig, t)
		}
	}
	switch {
	case len(sig) == 0:
		return ""
	case len(sig) == 1 && sig[0].Type == TokenField:
		return sig[0].Path()
	case len(sig) > 2 && sig[0].Type == TokenField && sig[1].Type == TokenOperator && sig[1].Value == "=":
		return sig[0].Path()
	}
	return strings.TrimSpace(Render(withoutComments(item)))
}

func withoutComments(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Type != TokenComment {
			out = append(out, t)
		}
	}
	return out
}

func trackDepth(t Token, depth int) int {
	if t.Type != TokenDelimiter {
		return depth
	}
	switch t.Value {
	case "(", "[", "{":
		return depth + 1
	case ")", "]", "}":
		if depth > 0 {
			return depth - 1
		}
	}
	return depth
}

// CountColumns returns the output column names of COUNT aggregations in the
// query's last STATS command, in declaration order. An aliased aggregation
// yields the alias; an unaliased one yields its source text.
func CountColumns(tokens []Token) []string {
	var stats *Command
	cmds := SplitCommands(tokens)
	for i := range cmds {
		if cmds[i].Name == "STATS" || cmds[i].Name == "INLINESTATS" {
			stats = &cmds[i]
		}
	}
	if stats == nil {
		return nil
	}

	var cols []string
	var item []Token
	depth := 0
	flush := func() {
		if col := countColumn(item); col != "" {
			cols = append(cols, col)
		}
		item = nil
	}
	for _, t := range stats.Tokens {
		if depth == 0 && t.Is("BY") {
			break
		}
		if depth == 0 && t.Type == TokenDelimiter && t.Value == "," {
			flush()
			continue
		}
		depth = trackDepth(t, depth)
		item = append(item, t)
	}
	flush()
	return cols
}

func countColumn(item []Token) string {
	var sig []Token
	for _, t := range item {
		if t.Significant() {
			sig = append(sig, t)
		}
	}
	// The first item starts with the command keyword itself.
	if len(sig) > 0 && (sig[0].Is("STATS") || sig[0].Is("INLINESTATS")) {
		for i, t := range item {
			if t.Significant() {
				item = item[i+1:]
				break
			}
		}
		sig = sig[1:]
	}
	switch {
	case len(sig) >= 4 && sig[0].Type == TokenField && sig[1].Type == TokenOperator && sig[1].Value == "=" && sig[2].Is("COUNT"):
		return sig[0].Path()
	case len(sig) >= 2 && sig[0].Is("COUNT") && sig[1].Type == TokenDelimiter && sig[1].Value == "(":
		return strings.TrimSpace(Render(withoutComments(item)))
	}
	return ""
}
