package predicate

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Set is a predicate over a fixed set of ids, computed up front. Motors
// answer lookups in the triple store with it.
type Set struct {
	bits *roaring64.Bitmap
	ids  []uint64
	i    int
}

// NewSet holds ids. Order and duplicates do not matter; zero is dropped.
func NewSet(ids ...uint64) *Set {
	bits := roaring64.New()
	bits.AddMany(ids)
	bits.Remove(0)
	desc := bits.ToArray()
	slices.Reverse(desc)
	return &Set{bits: bits, ids: desc}
}

func (s *Set) HasNext() bool { return s.i < len(s.ids) }

func (s *Set) Next() (uint64, error) {
	if !s.HasNext() {
		return 0, &ExhaustedIteratorError{Predicate: "set"}
	}
	id := s.ids[s.i]
	s.i++
	return id, nil
}

func (s *Set) Contains(id uint64) bool { return s.bits.Contains(id) }

// Len is the number of ids in the set.
func (s *Set) Len() int { return len(s.ids) }
