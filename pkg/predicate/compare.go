package predicate

import (
	"errors"
	"fmt"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/ray"
)

// ErrArgument reports an operator applied to arguments it cannot use.
var ErrArgument = errors.New("predicate: bad argument")

// Op is a comparison operator.
type Op int

const (
	Equal Op = iota
	GreaterThan
	LessThan
)

func (op Op) String() string {
	switch op {
	case Equal:
		return "equal"
	case GreaterThan:
		return "greater-than"
	case LessThan:
		return "less-than"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

func (op Op) holds(c int) bool {
	switch op {
	case Equal:
		return c == 0
	case GreaterThan:
		return c > 0
	default:
		return c < 0
	}
}

// compare tests a relation between two atoms resolved on each message.
// A variable the message lacks makes the message not match.
type compare struct {
	Predicate // iteration only

	r           *ray.Ray
	op          Op
	left, right Atom
	kind        attr.Kind
}

// NewCompare builds (op left right). Values compare as numbers when both
// sides are integers, as dates when both are ISO-8601 and as text otherwise;
// the kind of the variable involved can reverse the order.
//
// Equality between a variable and a plain text literal walks the value
// index of the ray instead of scanning every message.
func NewCompare(r *ray.Ray, op Op, left, right Atom) (Predicate, error) {
	if left.Kind == NestedAtom || right.Kind == NestedAtom {
		return nil, fmt.Errorf("%w: %s cannot compare predicates", ErrArgument, op)
	}
	c := &compare{r: r, op: op, left: left, right: right, kind: attr.Text}
	switch {
	case left.Kind == VariableAtom:
		c.kind = r.Kind(AttributeOf(left.Value))
	case right.Kind == VariableAtom:
		c.kind = r.Kind(AttributeOf(right.Value))
	}

	if name, value, ok := c.indexable(); ok {
		c.Predicate = NewMatching(r, r.Builder().Matcher(name, value))
	} else {
		c.Predicate = Scan(r, op.String(), c.Contains)
	}
	return c, nil
}

// indexable reports whether the comparison is plain equality between a
// variable and a literal that can only ever equal itself byte for byte.
func (c *compare) indexable() (name, value string, ok bool) {
	if c.op != Equal {
		return "", "", false
	}
	v, lit := c.left, c.right
	if lit.Kind == VariableAtom {
		v, lit = lit, v
	}
	if v.Kind != VariableAtom || lit.Kind != TextAtom {
		return "", "", false
	}
	if _, isNum := attr.ParseNumber(lit.Value); isNum {
		return "", "", false
	}
	if _, isDate := attr.ParseDate(lit.Value); isDate {
		return "", "", false
	}
	return AttributeOf(v.Value), lit.Value, true
}

func (c *compare) values(a Atom, id uint64) []string {
	if a.Kind == VariableAtom {
		return c.r.Values(id, AttributeOf(a.Value))
	}
	return []string{a.Value}
}

// Contains is true when any pair of values satisfies the relation.
func (c *compare) Contains(id uint64) bool {
	lefts := c.values(c.left, id)
	if len(lefts) == 0 {
		return false
	}
	rights := c.values(c.right, id)
	for _, l := range lefts {
		for _, rv := range rights {
			if c.op.holds(attr.CompareAs(c.kind, l, rv)) {
				return true
			}
		}
	}
	return false
}

func (c *compare) String() string {
	return fmt.Sprintf("(%s %s %s)", c.op, c.left, c.right)
}
