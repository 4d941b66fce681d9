package ray

import (
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/snapshot"
)

// index holds one attribute: the values of every message and, for each
// value, the bitmap of messages holding it.
type index struct {
	mu       sync.RWMutex
	attr     attr.Attribute
	values   map[uint64][]string
	postings map[string]*roaring64.Bitmap

	load    sync.Once
	loadErr error
}

func newIndex(a attr.Attribute) *index {
	return &index{
		attr:     a,
		values:   make(map[uint64][]string),
		postings: make(map[string]*roaring64.Bitmap),
	}
}

// fill loads records from a snapshot. Called once, before first use.
func (ix *index) fill(records []snapshot.Record) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, rec := range records {
		ix.addLocked(rec.ID, rec.Value)
	}
}

func (ix *index) attribute() attr.Attribute {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.attr
}

func (ix *index) declare(a attr.Attribute) {
	ix.mu.Lock()
	ix.attr = a
	ix.mu.Unlock()
}

// add stores value for id. Single-valued attributes lose their old value.
func (ix *index) add(id uint64, value string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addLocked(id, value)
}

func (ix *index) addLocked(id uint64, value string) {
	old := ix.values[id]
	if slices.Contains(old, value) {
		if !ix.attr.Multi && len(old) > 1 {
			ix.clearLocked(id)
			ix.insertLocked(id, value)
		}
		return
	}
	if !ix.attr.Multi {
		ix.clearLocked(id)
	}
	ix.insertLocked(id, value)
}

func (ix *index) insertLocked(id uint64, value string) {
	vals := ix.values[id]
	i, _ := slices.BinarySearch(vals, value)
	ix.values[id] = slices.Insert(vals, i, value)

	p, ok := ix.postings[value]
	if !ok {
		p = roaring64.New()
		ix.postings[value] = p
	}
	p.Add(id)
}

// remove drops value from id. It reports whether anything changed.
func (ix *index) remove(id uint64, value string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeLocked(id, value)
}

func (ix *index) removeLocked(id uint64, value string) bool {
	vals := ix.values[id]
	i, found := slices.BinarySearch(vals, value)
	if !found {
		return false
	}
	vals = slices.Delete(vals, i, i+1)
	if len(vals) == 0 {
		delete(ix.values, id)
	} else {
		ix.values[id] = vals
	}
	if p, ok := ix.postings[value]; ok {
		p.Remove(id)
		if p.IsEmpty() {
			delete(ix.postings, value)
		}
	}
	return true
}

// replace drops every value of id and stores value, as one step.
func (ix *index) replace(id uint64, value string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.clearLocked(id)
	ix.insertLocked(id, value)
}

// clear drops every value of id.
func (ix *index) clear(id uint64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.clearLocked(id)
}

func (ix *index) clearLocked(id uint64) bool {
	vals := ix.values[id]
	if len(vals) == 0 {
		return false
	}
	for _, v := range vals {
		if p, ok := ix.postings[v]; ok {
			p.Remove(id)
			if p.IsEmpty() {
				delete(ix.postings, v)
			}
		}
	}
	delete(ix.values, id)
	return true
}

func (ix *index) has(id uint64, value string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.postings[value]
	return ok && p.Contains(id)
}

// get returns a copy of the values of id, ascending.
func (ix *index) get(id uint64) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Clone(ix.values[id])
}

// seek returns the newest id not above bound holding value, or 0.
func (ix *index) seek(value string, bound uint64) uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.postings[value]
	if !ok {
		return 0
	}
	return below(p, bound)
}

// count returns how many messages hold value.
func (ix *index) count(value string) uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if p, ok := ix.postings[value]; ok {
		return p.GetCardinality()
	}
	return 0
}

// records lists every (id, value) pair sorted by id then value.
func (ix *index) records() []snapshot.Record {
	ix.mu.RLock()
	ids := make([]uint64, 0, len(ix.values))
	n := 0
	for id, vals := range ix.values {
		ids = append(ids, id)
		n += len(vals)
	}
	slices.Sort(ids)
	out := make([]snapshot.Record, 0, n)
	for _, id := range ids {
		for _, v := range ix.values[id] {
			out = append(out, snapshot.Record{ID: id, Value: v})
		}
	}
	ix.mu.RUnlock()
	return out
}

func (ix *index) size() (messages, values int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.values), len(ix.postings)
}
