// Package lattice provides a rank structure over the set of known message
// ids, used to jump a cursor close to its target before scanning.
//
// Ids are ordered newest first: rank 0 is the highest id. The lattice is
// immutable once built; new ids are folded in by copying an existing lattice
// into a Builder and filling it again.
//
// Example:
//
//	l, err := lattice.NewBuilder().Fill(10000, 350, 150, 50).Build()
//	l.Rank(5000) // 1: the target sits between 10000 and 350
package lattice

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ErrNotDescending is reported by Build when Fill received ids out of order.
var ErrNotDescending = errors.New("lattice: ids must be strictly descending and non-zero")

// Cursor is anything positioned relative to a target id.
type Cursor interface {
	// Target is the id the cursor wants to reach; ok is false when the cursor
	// has nothing to look for.
	Target() (id uint64, ok bool)
}

// Shifter moves a cursor to an approximate rank.
type Shifter interface {
	Shift(c Cursor, rank uint64) Cursor
}

// ShifterFunc adapts a function to Shifter.
type ShifterFunc func(c Cursor, rank uint64) Cursor

func (f ShifterFunc) Shift(c Cursor, rank uint64) Cursor { return f(c, rank) }

// Lattice is an immutable rank index over a set of ids.
type Lattice struct {
	bits *roaring64.Bitmap
	card uint64
	max  uint64
}

// Empty returns a lattice with no ids.
func Empty() *Lattice {
	return &Lattice{bits: roaring64.New()}
}

// Len is the number of ids in the lattice.
func (l *Lattice) Len() uint64 { return l.card }

// Max is the newest id, or 0 when empty.
func (l *Lattice) Max() uint64 { return l.max }

// Contains reports whether id was filled in.
func (l *Lattice) Contains(id uint64) bool { return l.bits.Contains(id) }

// Rank counts the ids strictly greater than target. That is the position,
// newest first, of the first id not above target.
//
// Rank never decreases as target moves away from the newest id, and it never
// exceeds the true position of the nearest id at or below target.
func (l *Lattice) Rank(target uint64) uint64 {
	if l.card == 0 || target >= l.max {
		return 0
	}
	return l.card - l.bits.Rank(target)
}

// At returns the id at a newest-first rank.
func (l *Lattice) At(rank uint64) (uint64, bool) {
	if rank >= l.card {
		return 0, false
	}
	id, err := l.bits.Select(l.card - 1 - rank)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Correct asks shifter to move cursor to the rank of its target. A cursor
// without a target is returned unchanged.
func (l *Lattice) Correct(cursor Cursor, shifter Shifter) Cursor {
	target, ok := cursor.Target()
	if !ok {
		return cursor
	}
	return shifter.Shift(cursor, l.Rank(target))
}

// IDs returns every id, newest first.
func (l *Lattice) IDs() []uint64 {
	ids := l.bits.ToArray()
	slices.Reverse(ids)
	return ids
}

func (l *Lattice) String() string {
	return fmt.Sprintf("lattice{ids: %d, max: %d, bytes: %d}", l.card, l.max, l.bits.GetSizeInBytes())
}

// Builder accumulates ids for a new Lattice.
type Builder struct {
	bits *roaring64.Bitmap
	err  error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{bits: roaring64.New()}
}

// Copy starts a builder from an existing lattice. The lattice itself is not
// modified.
func Copy(l *Lattice) *Builder {
	if l == nil {
		return NewBuilder()
	}
	return &Builder{bits: l.bits.Clone()}
}

// Fill adds ids, which must be strictly descending and non-zero within one
// call. Ids already present are ignored. The first violation is kept and
// reported by Build.
func (b *Builder) Fill(ids ...uint64) *Builder {
	if b.err != nil {
		return b
	}
	for i, id := range ids {
		if id == 0 || (i > 0 && id >= ids[i-1]) {
			b.err = fmt.Errorf("%w: %d at offset %d", ErrNotDescending, id, i)
			return b
		}
	}
	b.bits.AddMany(ids)
	return b
}

// Build freezes the builder into a Lattice.
func (b *Builder) Build() (*Lattice, error) {
	if b.err != nil {
		return nil, b.err
	}
	l := &Lattice{bits: b.bits, card: b.bits.GetCardinality()}
	if l.card > 0 {
		l.max = b.bits.Maximum()
	}
	b.bits = roaring64.New()
	return l, nil
}
