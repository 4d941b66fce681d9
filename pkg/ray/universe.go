package ray

import (
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/orneryd/boutinf/pkg/lattice"
)

// universe is the set of every registered message id. Most ids live in an
// immutable lattice; ids registered since the last rebuild sit in fresh until
// there are enough of them to fold in.
type universe struct {
	mu      sync.RWMutex
	lat     *lattice.Lattice
	fresh   *roaring64.Bitmap
	rebuild uint64
	builds  uint64
}

func newUniverse(rebuild int) *universe {
	if rebuild < 1 {
		rebuild = 1
	}
	return &universe{lat: lattice.Empty(), fresh: roaring64.New(), rebuild: uint64(rebuild)}
}

// load replaces the content with ids, ascending.
func (u *universe) load(ids []uint64) error {
	desc := slices.Clone(ids)
	slices.Reverse(desc)
	lat, err := lattice.NewBuilder().Fill(desc...).Build()
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.lat = lat
	u.fresh = roaring64.New()
	u.mu.Unlock()
	return nil
}

// add registers id and reports whether it was new.
func (u *universe) add(id uint64) bool {
	u.mu.RLock()
	known := u.lat.Contains(id) || u.fresh.Contains(id)
	u.mu.RUnlock()
	if known {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.lat.Contains(id) || !u.fresh.CheckedAdd(id) {
		return false
	}
	if u.fresh.GetCardinality() >= u.rebuild {
		u.fold()
	}
	return true
}

// fold merges fresh into a new lattice. Caller holds mu.
func (u *universe) fold() {
	desc := u.fresh.ToArray()
	slices.Reverse(desc)
	lat, err := lattice.Copy(u.lat).Fill(desc...).Build()
	if err != nil {
		// fresh never holds zero or duplicates, so this cannot happen; keep
		// the ids in fresh where they still count
		return
	}
	u.lat = lat
	u.fresh = roaring64.New()
	u.builds++
}

func (u *universe) contains(id uint64) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lat.Contains(id) || u.fresh.Contains(id)
}

// probe is a lattice cursor aimed at a bound.
type probe struct {
	bound uint64
	at    uint64
}

func (p *probe) Target() (uint64, bool) { return p.bound, p.bound > 0 }

// seek returns the newest id not above bound, or 0. The lattice jumps
// straight to the right rank; fresh ids refine the answer.
func (u *universe) seek(bound uint64) uint64 {
	if bound == 0 {
		return 0
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	p := &probe{bound: bound}
	u.lat.Correct(p, lattice.ShifterFunc(func(c lattice.Cursor, rank uint64) lattice.Cursor {
		pc := c.(*probe)
		pc.at, _ = u.lat.At(rank)
		return pc
	}))
	if f := below(u.fresh, bound); f > p.at {
		return f
	}
	return p.at
}

func (u *universe) len() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lat.Len() + u.fresh.GetCardinality()
}

// ids returns every id, ascending.
func (u *universe) ids() []uint64 {
	u.mu.RLock()
	all := roaring64.New()
	all.AddMany(u.lat.IDs())
	all.Or(u.fresh)
	u.mu.RUnlock()
	return all.ToArray()
}

func (u *universe) lattice() *lattice.Lattice {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lat
}

func (u *universe) pending() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.fresh.GetCardinality()
}

// below returns the largest member of b not above bound, or 0.
func below(b *roaring64.Bitmap, bound uint64) uint64 {
	if bound == 0 || b.IsEmpty() {
		return 0
	}
	n := b.Rank(bound)
	if n == 0 {
		return 0
	}
	id, err := b.Select(n - 1)
	if err != nil {
		return 0
	}
	return id
}
