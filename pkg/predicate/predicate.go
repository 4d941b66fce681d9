// Package predicate evaluates query trees against a ray.
//
// A Predicate is both an iterator over matching message ids, newest first,
// and a membership test. Predicates are stateful: they are built fresh for
// every evaluation and never shared between goroutines.
package predicate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/boutinf/pkg/attr"
)

// ErrExhausted matches *ExhaustedIteratorError.
var ErrExhausted = errors.New("predicate: exhausted")

// ExhaustedIteratorError is returned by Next when nothing is left.
type ExhaustedIteratorError struct {
	Predicate string
}

func (e *ExhaustedIteratorError) Error() string {
	return fmt.Sprintf("predicate: %s has no more messages", e.Predicate)
}

func (e *ExhaustedIteratorError) Is(target error) bool { return target == ErrExhausted }

// Predicate iterates and tests message ids.
type Predicate interface {
	// Next returns the next matching id, newest first, or an
	// *ExhaustedIteratorError.
	Next() (uint64, error)
	// HasNext reports whether Next would succeed.
	HasNext() bool
	// Contains reports whether id matches.
	Contains(id uint64) bool
}

// Bounded is implemented by predicates that know Contains will never again
// return true, so enclosing conjunctions may stop early.
type Bounded interface {
	Done() bool
}

func done(p Predicate) bool {
	b, ok := p.(Bounded)
	return ok && b.Done()
}

// AtomKind tells what an argument of an operator holds.
type AtomKind int

const (
	TextAtom AtomKind = iota
	NumberAtom
	DateAtom
	VariableAtom
	NestedAtom
)

func (k AtomKind) String() string {
	switch k {
	case TextAtom:
		return "text"
	case NumberAtom:
		return "number"
	case DateAtom:
		return "date"
	case VariableAtom:
		return "variable"
	case NestedAtom:
		return "predicate"
	}
	return "atom(" + strconv.Itoa(int(k)) + ")"
}

// Atom is one argument of an operator: a literal, a message variable or a
// nested predicate.
type Atom struct {
	Kind AtomKind
	// Value is the literal text or the variable name without '$'.
	Value string
	Pred  Predicate
}

// Text is a text literal.
func Text(s string) Atom { return Atom{Kind: TextAtom, Value: s} }

// Number is a numeric literal.
func Number(n int64) Atom { return Atom{Kind: NumberAtom, Value: strconv.FormatInt(n, 10)} }

// Date is a date literal.
func Date(t time.Time) Atom { return Atom{Kind: DateAtom, Value: attr.FormatDate(t)} }

// Variable refers to a message attribute, as in $bout.number.
func Variable(name string) Atom { return Atom{Kind: VariableAtom, Value: name} }

// Nested wraps a predicate.
func Nested(p Predicate) Atom { return Atom{Kind: NestedAtom, Pred: p} }

// Literal reports whether the atom is a constant.
func (a Atom) Literal() bool {
	return a.Kind == TextAtom || a.Kind == NumberAtom || a.Kind == DateAtom
}

func (a Atom) String() string {
	switch a.Kind {
	case VariableAtom:
		return "$" + a.Value
	case TextAtom:
		return strconv.Quote(a.Value)
	case NestedAtom:
		return "(...)"
	}
	return a.Value
}

// VarPrefix starts the ray attribute name of every message variable.
const VarPrefix = "var-"

// AttributeOf maps a variable name to the ray attribute holding it:
// "bout.number" is stored under "var-bout-number".
func AttributeOf(variable string) string {
	return VarPrefix + strings.ReplaceAll(strings.TrimPrefix(variable, "$"), ".", "-")
}
