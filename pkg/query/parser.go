package query

import (
	"strings"

	"github.com/orneryd/boutinf/pkg/attr"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 256

// Parse parses query text into an Expr.
func Parse(query string) (*Expr, error) {
	p := &parser{lex: lexer{src: query}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokOpen {
		return nil, p.unexpected("query must start with '('")
	}
	e, err := p.call(0)
	if err != nil {
		return nil, err
	}
	switch p.tok.kind {
	case tokEOF:
	case tokClose:
		return nil, p.unexpected("unbalanced ')'")
	default:
		return nil, p.unexpected("text after the closing ')'")
	}
	return e, nil
}

type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) unexpected(reason string) error {
	text := p.tok.text
	if p.tok.kind == tokEOF {
		text = ""
		reason = "unexpected end of query: " + reason
	}
	return &InvalidSyntaxError{Query: p.lex.src, Token: text, Pos: p.tok.pos, Reason: reason}
}

// call parses '(' operator arg* ')'. The current token is '('.
func (p *parser) call(depth int) (*Expr, error) {
	if depth >= maxDepth {
		return nil, p.unexpected("nesting too deep")
	}
	open := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokWord {
		return nil, p.unexpected("expected an operator name")
	}
	e := &Expr{Kind: Call, Op: strings.ToLower(p.tok.text), Pos: p.tok.pos}
	if err := p.advance(); err != nil {
		return nil, err
	}

	for {
		switch p.tok.kind {
		case tokClose:
			if err := p.advance(); err != nil {
				return nil, err
			}
			return e, nil
		case tokEOF:
			return nil, &InvalidSyntaxError{Query: p.lex.src, Token: "(", Pos: open, Reason: "unbalanced '('"}
		case tokOpen:
			arg, err := p.call(depth + 1)
			if err != nil {
				return nil, err
			}
			e.Args = append(e.Args, arg)
		default:
			e.Args = append(e.Args, literal(p.tok))
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
}

func literal(tok token) *Expr {
	e := &Expr{Value: tok.text, Pos: tok.pos}
	switch {
	case tok.kind == tokVariable:
		e.Kind = Variable
	case tok.kind == tokQuoted:
		e.Kind = Text
	case isDigits(tok.text):
		e.Kind = Number
	default:
		if _, ok := attr.ParseDate(tok.text); ok {
			e.Kind = Date
		} else {
			e.Kind = Text
		}
	}
	return e
}

func isDigits(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" || len(s) > 18 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Normalize turns free text into a keyword search over message text, bout
// title and author alias. Anything starting with "(" is an s-expression and
// is kept for the parser to accept or reject; blank text matches every
// message.
func Normalize(q string) string {
	q = strings.TrimSpace(q)
	switch {
	case q == "":
		return "(and)"
	case strings.HasPrefix(q, "("):
		return q
	}
	lit := Quote(q)
	return "(or (matches " + lit + " $text) (matches " + lit + " $bout.title) (matches " + lit + " $author.alias))"
}
