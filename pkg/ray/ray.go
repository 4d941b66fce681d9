// Package ray is the in-memory attribute index that predicates run against.
//
// A Ray holds the set of registered message ids and, per attribute, the
// values of every message together with value-to-messages bitmaps. Callers
// move Cursors through it newest first and mutate it through the same
// cursors. State survives restarts as snapshots (see package snapshot);
// attributes are read back lazily, the first time anything touches them.
//
// There is no ray-wide lock. The id set and each attribute have their own
// RW lock, and every mutation of one message's values, Replace included,
// happens under its attribute's lock. Writers on different attributes and
// readers between them proceed in parallel.
//
// Example:
//
//	r, err := ray.Open(dir, ray.Options{})
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	b := r.Builder()
//	c := r.Cursor()
//	c.Add(b.Picker(42), "var-text", "hello")
//	for c.Shift(b.Matcher("var-text", "hello")) {
//		id, _ := c.ID()
//		fmt.Println(id)
//	}
package ray

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/logging"
	"github.com/orneryd/boutinf/pkg/snapshot"
)

// maxID is the newest id a message may carry; MaxUint64 marks the top of a
// cursor.
const maxID = math.MaxUint64 - 1

// Options configure a Ray.
type Options struct {
	// LatticeRebuild is how many new ids accumulate before they are folded
	// into the lattice. Default 1024.
	LatticeRebuild int

	// SnapshotKeep is how many superseded snapshots survive a flush.
	SnapshotKeep int

	// Parallel bounds the files written or read at once. Default 4.
	Parallel int

	Logger *logging.Logger
}

func (o *Options) defaults() {
	if o.LatticeRebuild <= 0 {
		o.LatticeRebuild = 1024
	}
	if o.Parallel <= 0 {
		o.Parallel = 4
	}
}

// Stats describes a ray.
type Stats struct {
	IDs           uint64
	Pending       uint64 // ids not yet folded into the lattice
	Attributes    int
	Loaded        int // attributes read into memory
	Postings      int
	Dirty         int64
	Flushes       uint64
	Snapshot      string
	LatticeLength uint64
}

// Ray is a concurrent index of messages by attribute value.
type Ray struct {
	files *snapshot.Files
	opts  Options
	log   *logging.Logger

	uni *universe

	amu      sync.RWMutex // guards attrs, declared and base
	attrs    map[string]*index
	declared map[string]attr.Attribute
	base     *snapshot.Reader

	flushMu sync.Mutex
	dirty   atomic.Int64
	flushes atomic.Uint64
	closed  atomic.Bool
}

// Open loads the published snapshot of dir, if any. Message ids are read at
// once; attribute values wait until first use.
func Open(dir snapshot.Directory, opts Options) (*Ray, error) {
	opts.defaults()
	log := logging.OrNoop(opts.Logger).WithComponent("ray")
	r := &Ray{
		files: snapshot.NewFiles(dir, snapshot.Options{
			Keep:     opts.SnapshotKeep,
			Parallel: opts.Parallel,
			Logger:   opts.Logger,
		}),
		opts:     opts,
		log:      log,
		uni:      newUniverse(opts.LatticeRebuild),
		attrs:    make(map[string]*index),
		declared: make(map[string]attr.Attribute),
	}

	cur, err := r.files.Current()
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ray: open: %w", err)
	}
	reader, err := r.files.Open(cur)
	if err != nil {
		return nil, fmt.Errorf("ray: open: %w", err)
	}
	ids, err := reader.IDs()
	if err == nil {
		err = r.uni.load(ids)
	}
	log.LogLoad(context.Background(), cur.Tag, len(ids), err)
	if err != nil {
		return nil, fmt.Errorf("ray: load %s: %w", cur, err)
	}
	r.base = reader
	return r, nil
}

// Msg registers id and returns a view of it. Registering twice is harmless.
func (r *Ray) Msg(id uint64) (Msg, error) {
	if err := r.checkOpen(); err != nil {
		return Msg{}, err
	}
	if id == 0 || id > maxID {
		return Msg{}, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if r.uni.add(id) {
		r.dirty.Add(1)
	}
	return Msg{r: r, id: id}, nil
}

// Has reports whether id is registered.
func (r *Ray) Has(id uint64) bool { return r.uni.contains(id) }

// Builder returns the term builder of this ray.
func (r *Ray) Builder() TermBuilder { return TermBuilder{r: r} }

// Cursor returns a cursor above the newest message.
func (r *Ray) Cursor() *Cursor { return &Cursor{r: r, pos: top} }

// Declare sets the kind and cardinality of an attribute. Attributes nobody
// declares are single-valued text.
func (r *Ray) Declare(a attr.Attribute) error {
	if a.Name == "" {
		return fmt.Errorf("ray: declare: empty attribute name")
	}
	r.amu.Lock()
	r.declared[a.Name] = a
	ix := r.attrs[a.Name]
	r.amu.Unlock()
	if ix != nil {
		ix.declare(a)
	}
	return nil
}

// Attribute describes name.
func (r *Ray) Attribute(name string) attr.Attribute {
	r.amu.RLock()
	defer r.amu.RUnlock()
	return r.attributeLocked(name)
}

func (r *Ray) attributeLocked(name string) attr.Attribute {
	if a, ok := r.declared[name]; ok {
		return a
	}
	if r.base != nil {
		if e, ok := r.base.Manifest().Attribute(name); ok {
			return e.Attribute
		}
	}
	return attr.New(name, attr.Text)
}

// Kind is the kind of name.
func (r *Ray) Kind(name string) attr.Kind { return r.Attribute(name).Kind }

// Seek returns the newest registered id not above bound, or 0.
func (r *Ray) Seek(bound uint64) uint64 { return r.uni.seek(bound) }

// Len is the number of registered messages.
func (r *Ray) Len() uint64 { return r.uni.len() }

// Attr returns the first value of name on id.
func (r *Ray) Attr(id uint64, name string) (string, bool) {
	vals := r.Values(id, name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Values returns every value of name on id, ascending.
func (r *Ray) Values(id uint64, name string) []string {
	ix := r.lookup(name)
	if ix == nil {
		return nil
	}
	return ix.get(id)
}

// Count returns how many messages hold value under name.
func (r *Ray) Count(name, value string) uint64 {
	ix := r.lookup(name)
	if ix == nil {
		return 0
	}
	return ix.count(value)
}

// lookup returns the index of name, loading it from the snapshot on first
// use. It returns nil when name has never been written.
func (r *Ray) lookup(name string) *index {
	r.amu.RLock()
	ix, ok := r.attrs[name]
	inBase := false
	if !ok && r.base != nil {
		_, inBase = r.base.Manifest().Attribute(name)
	}
	r.amu.RUnlock()
	if !ok {
		if !inBase {
			return nil
		}
		ix = r.create(name)
	}
	r.loadIndex(name, ix)
	return ix
}

// ensure returns the index of name, creating it when missing.
func (r *Ray) ensure(name string) *index {
	r.amu.RLock()
	ix, ok := r.attrs[name]
	r.amu.RUnlock()
	if !ok {
		ix = r.create(name)
	}
	r.loadIndex(name, ix)
	return ix
}

func (r *Ray) create(name string) *index {
	r.amu.Lock()
	defer r.amu.Unlock()
	if ix, ok := r.attrs[name]; ok {
		return ix
	}
	ix := newIndex(r.attributeLocked(name))
	r.attrs[name] = ix
	return ix
}

func (r *Ray) loadIndex(name string, ix *index) {
	ix.load.Do(func() {
		r.amu.RLock()
		base := r.base
		r.amu.RUnlock()
		if base == nil {
			return
		}
		records, ok, err := base.Attribute(name)
		if err != nil {
			ix.loadErr = err
			r.log.Error("attribute load failed", "attribute", name, "snapshot", base.Snapshot().Tag, "error", err)
			return
		}
		if ok {
			ix.fill(records)
			r.log.Debug("attribute loaded", "attribute", name, "records", len(records))
		}
	})
}

// indexes returns every index, sorted by name.
func (r *Ray) indexes() []*index {
	r.amu.RLock()
	out := make([]*index, 0, len(r.attrs))
	for _, ix := range r.attrs {
		out = append(out, ix)
	}
	r.amu.RUnlock()
	slices.SortFunc(out, func(a, b *index) int {
		return strings.Compare(a.attribute().Name, b.attribute().Name)
	})
	return out
}

// Stats reports counters.
func (r *Ray) Stats() Stats {
	s := Stats{
		IDs:           r.uni.len(),
		Pending:       r.uni.pending(),
		Dirty:         r.dirty.Load(),
		Flushes:       r.flushes.Load(),
		LatticeLength: r.uni.lattice().Len(),
	}
	r.amu.RLock()
	names := make(map[string]struct{}, len(r.attrs))
	for name, ix := range r.attrs {
		names[name] = struct{}{}
		_, values := ix.size()
		s.Postings += values
	}
	s.Loaded = len(r.attrs)
	if r.base != nil {
		s.Snapshot = r.base.Snapshot().Tag
		for _, a := range r.base.Manifest().Attributes {
			names[a.Name] = struct{}{}
		}
	}
	r.amu.RUnlock()
	s.Attributes = len(names)
	return s
}

func (r *Ray) String() string {
	s := r.Stats()
	return fmt.Sprintf("ray{dir: %s, ids: %d, attributes: %d, snapshot: %q}",
		r.files.Dir().Path(), s.IDs, s.Attributes, s.Snapshot)
}

func (r *Ray) checkOpen() error {
	if r.closed.Load() {
		return ErrClosed
	}
	return nil
}
