package query

import (
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpen
	tokClose
	tokQuoted
	tokWord
	tokVariable
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokOpen:
		return "'('"
	case tokClose:
		return "')'"
	case tokQuoted:
		return "quoted text"
	case tokWord:
		return "word"
	case tokVariable:
		return "variable"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string // decoded text; raw source for words
	pos  int
}

// lexer splits query text into tokens in one pass.
type lexer struct {
	src string
	pos int
}

func (l *lexer) fail(pos int, tok, reason string) error {
	return &InvalidSyntaxError{Query: l.src, Token: tok, Pos: pos, Reason: reason}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	switch c := l.src[l.pos]; c {
	case '(':
		l.pos++
		return token{kind: tokOpen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokClose, text: ")", pos: start}, nil
	case '\'', '"':
		return l.quoted(c)
	case '$':
		l.pos++
		name := l.word()
		if name == "" {
			return token{}, l.fail(start, "$", "empty variable name")
		}
		return token{kind: tokVariable, text: name, pos: start}, nil
	default:
		return token{kind: tokWord, text: l.word(), pos: start}, nil
	}
}

// quoted reads a literal in single or double quotes. A backslash escapes the
// next character.
func (l *lexer) quoted(q byte) (token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == q:
			l.pos++
			return token{kind: tokQuoted, text: sb.String(), pos: start}, nil
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.fail(start, l.src[start:], "unterminated quote")
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isSpace(c) || c == '(' || c == ')' || c == '\'' || c == '"' {
			break
		}
		l.pos++
	}
	return l.src[start:l.pos]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
