package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType classifies a lexical atom of an ES|QL query.
type TokenType int

const (
	// TokenField is an identifier path such as user.name or `weird-field`.
	TokenField TokenType = iota
	// TokenSource is a collection name or pattern in a FROM command.
	TokenSource
	// TokenLiteral is a string, number or named parameter.
	TokenLiteral
	// TokenKeyword is a reserved word, function name or time-span unit.
	TokenKeyword
	TokenOperator
	// TokenDelimiter is one of | , ( ) [ ] { }
	TokenDelimiter
	TokenWhitespace
	TokenComment
)

func (t TokenType) String() string {
	switch t {
	case TokenField:
		return "field"
	case TokenSource:
		return "source"
	case TokenLiteral:
		return "literal"
	case TokenKeyword:
		return "keyword"
	case TokenOperator:
		return "operator"
	case TokenDelimiter:
		return "delimiter"
	case TokenWhitespace:
		return "whitespace"
	case TokenComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Token is a lexical token. Value is the exact source text, so concatenating
// the values of all tokens reproduces the input.
type Token struct {
	Type   TokenType
	Value  string
	Pos    int
	Quoted bool
}

// Path returns the identifier path of a field token with backtick quoting removed.
func (t Token) Path() string {
	if !t.Quoted {
		return t.Value
	}
	inner := strings.TrimPrefix(t.Value, "`")
	inner = strings.TrimSuffix(inner, "`")
	return strings.ReplaceAll(inner, "``", "`")
}

// Is reports whether t is the keyword kw, compared case-insensitively.
func (t Token) Is(kw string) bool {
	return t.Type == TokenKeyword && strings.EqualFold(t.Value, kw)
}

// Significant reports whether the token carries meaning, i.e. it is not
// whitespace or a comment.
func (t Token) Significant() bool {
	return t.Type != TokenWhitespace && t.Type != TokenComment
}

// QuoteIdentifier renders path as a backtick-quoted identifier.
func QuoteIdentifier(path string) string {
	return "`" + strings.ReplaceAll(path, "`", "``") + "`"
}

var keywords = map[string]struct{}{
	"FROM": {}, "ROW": {}, "SHOW": {}, "WHERE": {}, "EVAL": {}, "STATS": {}, "INLINESTATS": {},
	"BY": {}, "KEEP": {}, "DROP": {}, "RENAME": {}, "AS": {}, "SORT": {}, "LIMIT": {},
	"DISSECT": {}, "GROK": {}, "ENRICH": {}, "ON": {}, "WITH": {}, "MV_EXPAND": {},
	"METADATA": {}, "LOOKUP": {}, "JOIN": {}, "AND": {}, "OR": {}, "NOT": {}, "LIKE": {},
	"RLIKE": {}, "IN": {}, "IS": {}, "NULL": {}, "TRUE": {}, "FALSE": {}, "ASC": {},
	"DESC": {}, "NULLS": {}, "FIRST": {}, "LAST": {},
}

// Commands that take a list of collections as their first argument.
var sourceCommands = map[string]struct{}{"FROM": {}}

var timeUnits = map[string]struct{}{
	"millisecond": {}, "milliseconds": {}, "ms": {},
	"second": {}, "seconds": {}, "sec": {}, "s": {},
	"minute": {}, "minutes": {}, "min": {},
	"hour": {}, "hours": {}, "h": {},
	"day": {}, "days": {}, "d": {},
	"week": {}, "weeks": {}, "w": {},
	"month": {}, "months": {}, "mo": {},
	"quarter": {}, "quarters": {}, "q": {},
	"year": {}, "years": {}, "yr": {}, "y": {},
}

// IsKeyword reports whether word is reserved in ES|QL.
func IsKeyword(word string) bool {
	_, ok := keywords[strings.ToUpper(word)]
	return ok
}

func isTimeUnit(word string) bool {
	_, ok := timeUnits[strings.ToLower(word)]
	return ok
}

// lexer keeps a cursor over the input plus the classification state needed
// for context-sensitive words (sources after FROM, units after numbers).
type lexer struct {
	input    string
	pos      int
	tokens   []Token
	inSource bool
}

// Lex splits an ES|QL query into tokens. It never fails: an unterminated
// string, quoted identifier or comment extends to the end of the input.
func Lex(query string) []Token {
	l := &lexer{input: query}
	for l.pos < len(l.input) {
		l.next()
	}
	return l.tokens
}

// Render concatenates token values.
func Render(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Value)
	}
	return b.String()
}

func (l *lexer) emit(tt TokenType, start int, quoted bool) {
	l.tokens = append(l.tokens, Token{Type: tt, Value: l.input[start:l.pos], Pos: start, Quoted: quoted})
}

func (l *lexer) peekByte(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *lexer) next() {
	start := l.pos
	c := l.input[l.pos]

	switch {
	case isSpace(c):
		for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
			l.pos++
		}
		l.emit(TokenWhitespace, start, false)

	case c == '/' && l.peekByte(1) == '/':
		if i := strings.IndexByte(l.input[l.pos:], '\n'); i >= 0 {
			l.pos += i
		} else {
			l.pos = len(l.input)
		}
		l.emit(TokenComment, start, false)

	case c == '/' && l.peekByte(1) == '*':
		if i := strings.Index(l.input[l.pos+2:], "*/"); i >= 0 {
			l.pos += i + 4
		} else {
			l.pos = len(l.input)
		}
		l.emit(TokenComment, start, false)

	case c == '|':
		l.pos++
		l.inSource = false
		l.emit(TokenDelimiter, start, false)

	case c == ',' || c == '(' || c == ')' || c == '[' || c == ']' || c == '{' || c == '}':
		l.pos++
		l.emit(TokenDelimiter, start, false)

	case c == '"':
		l.lexString()
		l.emit(TokenLiteral, start, false)

	case c == '`':
		l.lexQuotedIdentifier()
		l.emit(TokenField, start, true)

	case l.inSource:
		l.lexSource(start)

	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		l.lexNumber()
		l.emit(TokenLiteral, start, false)

	case c == '?':
		l.pos++
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		l.emit(TokenLiteral, start, false)

	case isIdentStart(c):
		l.lexWord(start)

	default:
		l.lexOperator()
		l.emit(TokenOperator, start, false)
	}
}

func (l *lexer) lexString() {
	if strings.HasPrefix(l.input[l.pos:], `"""`) {
		if i := strings.Index(l.input[l.pos+3:], `"""`); i >= 0 {
			l.pos += i + 6
		} else {
			l.pos = len(l.input)
		}
		return
	}
	l.pos++
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '\\':
			l.pos += 2
		case '"':
			l.pos++
			return
		default:
			l.pos++
		}
	}
	if l.pos > len(l.input) {
		l.pos = len(l.input)
	}
}

func (l *lexer) lexQuotedIdentifier() {
	l.pos++
	for l.pos < len(l.input) {
		if l.input[l.pos] == '`' {
			if l.peekByte(1) == '`' {
				l.pos += 2
				continue
			}
			l.pos++
			return
		}
		l.pos++
	}
}

func (l *lexer) lexNumber() {
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
		l.pos++
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		next := l.peekByte(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekByte(2))) {
			l.pos += 2
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
	}
	// Compact spans such as 15m stay one literal.
	for l.pos < len(l.input) && isLetter(l.input[l.pos]) {
		l.pos++
	}
}

// lexSource reads one collection pattern of a FROM command. Patterns may
// contain characters such as - * : that are operators elsewhere.
func (l *lexer) lexSource(start int) {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isSpace(c) || c == ',' || c == '|' || c == '"' || c == '`' {
			break
		}
		if c == '/' && (l.peekByte(1) == '/' || l.peekByte(1) == '*') {
			break
		}
		l.pos++
	}
	word := l.input[start:l.pos]
	if strings.EqualFold(word, "METADATA") {
		l.inSource = false
		l.emit(TokenKeyword, start, false)
		return
	}
	l.emit(TokenSource, start, false)
}

func (l *lexer) lexWord(start int) {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isIdentPart(c) || c == '.' || c == '@' {
			l.pos++
			continue
		}
		// Wildcards are part of a path only after a dot, as in KEEP user.*
		if c == '*' && l.pos > start && l.input[l.pos-1] == '.' {
			l.pos++
			continue
		}
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(l.input[l.pos:])
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				l.pos += size
				continue
			}
		}
		break
	}

	word := l.input[start:l.pos]
	dotted := strings.Contains(word, ".")

	switch {
	case !dotted && IsKeyword(word):
		l.emit(TokenKeyword, start, false)
		if _, ok := sourceCommands[strings.ToUpper(word)]; ok {
			l.inSource = true
		}
	case !dotted && l.followedByParen():
		l.emit(TokenKeyword, start, false)
	case !dotted && isTimeUnit(word) && l.previousIsNumber():
		l.emit(TokenKeyword, start, false)
	default:
		l.emit(TokenField, start, false)
	}
}

func (l *lexer) followedByParen() bool {
	for i := l.pos; i < len(l.input); i++ {
		if isSpace(l.input[i]) {
			continue
		}
		return l.input[i] == '('
	}
	return false
}

func (l *lexer) previousIsNumber() bool {
	for i := len(l.tokens) - 1; i >= 0; i-- {
		t := l.tokens[i]
		if !t.Significant() {
			continue
		}
		return t.Type == TokenLiteral && t.Value != "" && (isDigit(t.Value[0]) || t.Value[0] == '.')
	}
	return false
}

var multiCharOperators = []string{"==", "!=", "<=", ">=", "=~", "::"}

func (l *lexer) lexOperator() {
	rest := l.input[l.pos:]
	for _, op := range multiCharOperators {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return
		}
	}
	_, size := utf8.DecodeRuneInString(rest)
	l.pos += size
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentStart(c byte) bool {
	return isLetter(c) || c == '_' || c == '@'
}

func isIdentPart(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_'
}
