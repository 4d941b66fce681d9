// Package query parses s-expression queries and builds predicates from them.
//
// Grammar:
//
//	query := call
//	call  := '(' operator arg* ')'
//	arg   := call | '$'name | quoted | word
//
// Bare words made of digits are numbers, ISO-8601 words are dates and any
// other word or quoted literal is text. For example:
//
//	(and (from 3) (limit 6))
//	(or (pos 5) (equal $text 'hi'))
//	(talks-with 'urn:test:A')
package query

import (
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/boutinf/pkg/attr"
)

// Kind tells what an Expr node is.
type Kind int

const (
	Call Kind = iota
	Text
	Number
	Date
	Variable
)

// Expr is an immutable parse tree node.
type Expr struct {
	Kind Kind
	// Op is the operator of a Call.
	Op   string
	Args []*Expr
	// Value holds literal text, the digits of a number, the date as written
	// or the variable name without '$'.
	Value string
	// Pos is the byte offset of the node in the query.
	Pos int
}

// Int returns the value of a Number node.
func (e *Expr) Int() (int64, bool) {
	if e.Kind != Number {
		return 0, false
	}
	n, err := strconv.ParseInt(e.Value, 10, 64)
	return n, err == nil
}

// Time returns the value of a Date node.
func (e *Expr) Time() (time.Time, bool) {
	if e.Kind != Date {
		return time.Time{}, false
	}
	return attr.ParseDate(e.Value)
}

// String renders the node back to query text.
func (e *Expr) String() string {
	var sb strings.Builder
	e.write(&sb)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder) {
	switch e.Kind {
	case Call:
		sb.WriteByte('(')
		sb.WriteString(e.Op)
		for _, a := range e.Args {
			sb.WriteByte(' ')
			a.write(sb)
		}
		sb.WriteByte(')')
	case Text:
		sb.WriteString(Quote(e.Value))
	case Variable:
		sb.WriteByte('$')
		sb.WriteString(e.Value)
	default:
		sb.WriteString(e.Value)
	}
}

// Quote renders s as a single-quoted literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// Walk calls fn for e and every node below it, depth first.
func (e *Expr) Walk(fn func(*Expr)) {
	fn(e)
	for _, a := range e.Args {
		a.Walk(fn)
	}
}
