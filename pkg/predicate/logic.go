package predicate

import (
	"github.com/orneryd/boutinf/pkg/ray"
)

type always struct {
	*scan
}

// True matches every registered message.
func True(r *ray.Ray) Predicate {
	a := &always{}
	a.scan = newScan(r, "true", func(uint64) bool { return true })
	return a
}

func (a *always) Contains(uint64) bool { return true }

type never struct{}

// False matches nothing.
func False() Predicate { return never{} }

func (never) Next() (uint64, error) { return 0, &ExhaustedIteratorError{Predicate: "false"} }
func (never) HasNext() bool         { return false }
func (never) Contains(uint64) bool  { return false }
func (never) Done() bool            { return true }

type and struct {
	preds []Predicate
	next  uint64
	done  bool
}

// And matches messages every predicate matches. The first predicate drives
// iteration; the others are asked, in order, whether they contain each of
// its ids. With no predicates And matches everything.
func And(r *ray.Ray, preds ...Predicate) Predicate {
	switch len(preds) {
	case 0:
		return True(r)
	case 1:
		return preds[0]
	}
	return &and{preds: preds}
}

func (a *and) HasNext() bool {
	if a.next != 0 {
		return true
	}
	driver := a.preds[0]
	for !a.done {
		if a.Done() || !driver.HasNext() {
			a.done = true
			break
		}
		id, err := driver.Next()
		if err != nil {
			a.done = true
			break
		}
		if a.rest(id) {
			a.next = id
			return true
		}
	}
	return false
}

func (a *and) Next() (uint64, error) {
	if !a.HasNext() {
		return 0, &ExhaustedIteratorError{Predicate: "and"}
	}
	id := a.next
	a.next = 0
	return id, nil
}

func (a *and) rest(id uint64) bool {
	for _, p := range a.preds[1:] {
		if !p.Contains(id) {
			return false
		}
	}
	return true
}

func (a *and) Contains(id uint64) bool {
	for _, p := range a.preds {
		if !p.Contains(id) {
			return false
		}
	}
	return true
}

// Done is true once any member can never match again.
func (a *and) Done() bool {
	for _, p := range a.preds {
		if done(p) {
			return true
		}
	}
	return false
}

type or struct {
	preds []Predicate
	heads []uint64
}

// Or matches messages any predicate matches. Iteration merges the members
// newest first and yields each id once. With no predicates Or matches
// nothing.
func Or(preds ...Predicate) Predicate {
	switch len(preds) {
	case 0:
		return False()
	case 1:
		return preds[0]
	}
	return &or{preds: preds, heads: make([]uint64, len(preds))}
}

func (o *or) peek() uint64 {
	var best uint64
	for i, p := range o.preds {
		if o.heads[i] == 0 && p.HasNext() {
			o.heads[i], _ = p.Next()
		}
		if o.heads[i] > best {
			best = o.heads[i]
		}
	}
	return best
}

func (o *or) HasNext() bool { return o.peek() != 0 }

func (o *or) Next() (uint64, error) {
	best := o.peek()
	if best == 0 {
		return 0, &ExhaustedIteratorError{Predicate: "or"}
	}
	for i := range o.heads {
		if o.heads[i] == best {
			o.heads[i] = 0
		}
	}
	return best, nil
}

func (o *or) Contains(id uint64) bool {
	for _, p := range o.preds {
		if p.Contains(id) {
			return true
		}
	}
	return false
}

// Done is true once every member is done.
func (o *or) Done() bool {
	for _, p := range o.preds {
		if !done(p) {
			return false
		}
	}
	return true
}

type negation struct {
	*scan
	p Predicate
}

// Not matches registered messages p does not match.
func Not(r *ray.Ray, p Predicate) Predicate {
	n := &negation{p: p}
	n.scan = newScan(r, "not", n.Contains)
	return n
}

func (n *negation) Contains(id uint64) bool { return !n.p.Contains(id) }
