package predicate

import (
	"strconv"

	"github.com/orneryd/boutinf/pkg/ray"
)

type positionKind int

const (
	fromKind positionKind = iota
	limitKind
	posKind
)

// position counts the ids that reach it. Every call to Contains is one
// step; the counter starts at 0.
type position struct {
	*scan
	kind positionKind
	n    uint64
	seen uint64
}

func newPosition(r *ray.Ray, kind positionKind, name string, n uint64) *position {
	p := &position{kind: kind, n: n}
	p.scan = newScan(r, name+" "+strconv.FormatUint(n, 10), p.Contains)
	p.scan.stop = p.Done
	return p
}

// From skips the first n ids that reach it.
func From(r *ray.Ray, n uint64) Predicate { return newPosition(r, fromKind, "from", n) }

// Limit passes the first n ids that reach it.
func Limit(r *ray.Ray, n uint64) Predicate { return newPosition(r, limitKind, "limit", n) }

// Pos passes only the id at position n.
func Pos(r *ray.Ray, n uint64) Predicate { return newPosition(r, posKind, "pos", n) }

func (p *position) Contains(uint64) bool {
	at := p.seen
	p.seen++
	switch p.kind {
	case fromKind:
		return at >= p.n
	case limitKind:
		return at < p.n
	default:
		return at == p.n
	}
}

// Done is true once no later position can pass.
func (p *position) Done() bool {
	switch p.kind {
	case limitKind:
		return p.seen >= p.n
	case posKind:
		return p.seen > p.n
	}
	return false
}
