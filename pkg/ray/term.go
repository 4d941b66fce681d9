package ray

import (
	"strconv"
	"strings"
)

// Term selects messages of a ray. Terms are built by a TermBuilder and are
// only meaningful for the ray that built them.
type Term interface {
	// Seek returns the newest admitted id not above bound, or 0.
	Seek(bound uint64) uint64
	// Admits reports whether id is selected.
	Admits(id uint64) bool
	String() string
}

// TermBuilder makes terms for one ray.
type TermBuilder struct {
	r *Ray
}

// Picker selects exactly one message. Unlike other terms it also selects an
// id the ray has not seen yet, which is how Cursor.Add registers messages.
func (b TermBuilder) Picker(id uint64) Term {
	return &picker{r: b.r, id: id}
}

// Matcher selects messages whose attribute holds value.
func (b TermBuilder) Matcher(name, value string) Term {
	return &matcher{r: b.r, name: name, value: value}
}

// Always selects every registered message.
func (b TermBuilder) Always() Term {
	return &always{r: b.r}
}

// Never selects nothing.
func (b TermBuilder) Never() Term {
	return or{}
}

// And selects messages every term selects. No terms means Always.
func (b TermBuilder) And(terms ...Term) Term {
	if len(terms) == 0 {
		return b.Always()
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return and(terms)
}

// Or selects messages any term selects. No terms means Never.
func (b TermBuilder) Or(terms ...Term) Term {
	if len(terms) == 1 {
		return terms[0]
	}
	return or(terms)
}

// Not selects registered messages t does not select.
func (b TermBuilder) Not(t Term) Term {
	return &not{r: b.r, t: t}
}

type picker struct {
	r  *Ray
	id uint64
}

func (p *picker) Seek(bound uint64) uint64 {
	if p.id <= bound && p.r.uni.contains(p.id) {
		return p.id
	}
	return 0
}

func (p *picker) Admits(id uint64) bool { return id == p.id }

func (p *picker) String() string { return "(pick " + strconv.FormatUint(p.id, 10) + ")" }

type matcher struct {
	r           *Ray
	name, value string
}

func (m *matcher) Seek(bound uint64) uint64 {
	ix := m.r.lookup(m.name)
	if ix == nil {
		return 0
	}
	return ix.seek(m.value, bound)
}

func (m *matcher) Admits(id uint64) bool {
	ix := m.r.lookup(m.name)
	return ix != nil && ix.has(id, m.value)
}

func (m *matcher) String() string {
	return "(" + m.name + " " + strconv.Quote(m.value) + ")"
}

type always struct {
	r *Ray
}

func (a *always) Seek(bound uint64) uint64 { return a.r.uni.seek(bound) }

func (a *always) Admits(id uint64) bool { return a.r.uni.contains(id) }

func (a *always) String() string { return "(always)" }

type and []Term

// Seek leapfrogs: each term may lower the candidate, and the candidate
// stands once every term agrees on it.
func (a and) Seek(bound uint64) uint64 {
	cand := bound
	for cand != 0 {
		agreed := true
		for _, t := range a {
			got := t.Seek(cand)
			if got == 0 {
				return 0
			}
			if got != cand {
				cand = got
				agreed = false
				break
			}
		}
		if agreed {
			return cand
		}
	}
	return 0
}

func (a and) Admits(id uint64) bool {
	for _, t := range a {
		if !t.Admits(id) {
			return false
		}
	}
	return true
}

func (a and) String() string { return join("and", a) }

type or []Term

func (o or) Seek(bound uint64) uint64 {
	var best uint64
	for _, t := range o {
		if got := t.Seek(bound); got > best {
			best = got
		}
	}
	return best
}

func (o or) Admits(id uint64) bool {
	for _, t := range o {
		if t.Admits(id) {
			return true
		}
	}
	return false
}

func (o or) String() string { return join("or", o) }

type not struct {
	r *Ray
	t Term
}

func (n *not) Seek(bound uint64) uint64 {
	for id := n.r.uni.seek(bound); id != 0; id = n.r.uni.seek(id - 1) {
		if !n.t.Admits(id) {
			return id
		}
	}
	return 0
}

func (n *not) Admits(id uint64) bool { return n.r.uni.contains(id) && !n.t.Admits(id) }

func (n *not) String() string { return "(not " + n.t.String() + ")" }

func join(op string, terms []Term) string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(op)
	for _, t := range terms {
		sb.WriteString(" ")
		sb.WriteString(t.String())
	}
	sb.WriteString(")")
	return sb.String()
}
