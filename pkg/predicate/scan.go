package predicate

import (
	"math"

	"github.com/orneryd/boutinf/pkg/ray"
)

// scan iterates the registered ids of a ray, newest first, yielding those
// match accepts. It is the iteration half of predicates that only know how
// to test a single id.
type scan struct {
	r     *ray.Ray
	name  string
	match func(id uint64) bool
	stop  func() bool

	pos  uint64
	next uint64
	done bool
}

func newScan(r *ray.Ray, name string, match func(uint64) bool) *scan {
	return &scan{r: r, name: name, match: match, pos: math.MaxUint64}
}

func (s *scan) HasNext() bool {
	if s.next != 0 {
		return true
	}
	for !s.done {
		if s.stop != nil && s.stop() {
			s.done = true
			break
		}
		id := s.r.Seek(s.pos - 1)
		if id == 0 {
			s.done = true
			break
		}
		s.pos = id
		if s.match(id) {
			s.next = id
			return true
		}
	}
	return false
}

func (s *scan) Next() (uint64, error) {
	if !s.HasNext() {
		return 0, &ExhaustedIteratorError{Predicate: s.name}
	}
	id := s.next
	s.next = 0
	return id, nil
}

// Matching iterates the messages a ray term selects.
type Matching struct {
	term   ray.Term
	cursor *ray.Cursor
	next   uint64
	done   bool
}

// NewMatching walks t over r.
func NewMatching(r *ray.Ray, t ray.Term) *Matching {
	return &Matching{term: t, cursor: r.Cursor()}
}

func (m *Matching) HasNext() bool {
	if m.next != 0 {
		return true
	}
	if m.done {
		return false
	}
	if !m.cursor.Shift(m.term) {
		m.done = true
		return false
	}
	m.next, _ = m.cursor.ID()
	return true
}

func (m *Matching) Next() (uint64, error) {
	if !m.HasNext() {
		return 0, &ExhaustedIteratorError{Predicate: m.term.String()}
	}
	id := m.next
	m.next = 0
	return id, nil
}

func (m *Matching) Contains(id uint64) bool { return m.term.Admits(id) }

func (m *Matching) String() string { return m.term.String() }

type scanned struct {
	*scan
	match func(uint64) bool
}

// Scan walks every registered id of r, newest first, and matches those
// match accepts. Contains calls match directly.
func Scan(r *ray.Ray, name string, match func(id uint64) bool) Predicate {
	return &scanned{scan: newScan(r, name, match), match: match}
}

func (s *scanned) Contains(id uint64) bool { return s.match(id) }
