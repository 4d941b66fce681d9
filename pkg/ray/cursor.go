package ray

import (
	"fmt"
	"math"
	"strconv"

	"github.com/orneryd/boutinf/pkg/pool"
)

const (
	top uint64 = math.MaxUint64
	end uint64 = 0
)

// Cursor walks a ray newest first. It starts above the newest message and
// finishes past the oldest. A Cursor is not safe for concurrent use, but any
// number of cursors may work on one ray at once.
type Cursor struct {
	r   *Ray
	pos uint64
}

// Shift moves to the newest message below the current one that t selects.
// It returns false, leaving the cursor at the end, when there is none. The
// term does the seeking: a matcher jumps by rank in its posting bitmap, and
// only terms that walk every registered id go through the lattice.
func (c *Cursor) Shift(t Term) bool {
	if c.pos == end {
		return false
	}
	if t == nil {
		c.pos = end
		return false
	}
	c.pos = t.Seek(c.pos - 1)
	return c.pos != end
}

// ID is the message under the cursor. ok is false at the top and at the end.
func (c *Cursor) ID() (id uint64, ok bool) {
	if c.pos == top || c.pos == end {
		return 0, false
	}
	return c.pos, true
}

// End reports whether the cursor ran past the oldest message.
func (c *Cursor) End() bool { return c.pos == end }

// Msg is the message under the cursor.
func (c *Cursor) Msg() Msg {
	id, _ := c.ID()
	return Msg{r: c.r, id: id}
}

// Add stores value under name on every message t selects. Picked messages
// are registered first. The cursor does not move.
func (c *Cursor) Add(t Term, name, value string) error {
	return c.mutate(t, name, true, func(ix *index, id uint64) bool {
		ix.add(id, value)
		return true
	})
}

// Delete removes value from name on every message t selects.
func (c *Cursor) Delete(t Term, name, value string) error {
	return c.mutate(t, name, false, func(ix *index, id uint64) bool {
		return ix.remove(id, value)
	})
}

// Replace makes value the only value of name on every message t selects.
// Readers never observe the message without a value in between.
func (c *Cursor) Replace(t Term, name, value string) error {
	return c.mutate(t, name, true, func(ix *index, id uint64) bool {
		ix.replace(id, value)
		return true
	})
}

// Clear removes every value of name from the messages t selects.
func (c *Cursor) Clear(t Term, name string) error {
	return c.mutate(t, name, false, func(ix *index, id uint64) bool {
		return ix.clear(id)
	})
}

func (c *Cursor) mutate(t Term, name string, register bool, apply func(ix *index, id uint64) bool) error {
	r := c.r
	if err := r.checkOpen(); err != nil {
		return err
	}
	if t == nil {
		return ErrNoTerm
	}
	if name == "" {
		return fmt.Errorf("ray: empty attribute name")
	}

	ids := pool.GetIDSlice()
	defer func() { pool.PutIDSlice(ids) }()

	if p, ok := t.(*picker); ok {
		if p.id == 0 || p.id > maxID {
			return fmt.Errorf("%w: %d", ErrInvalidID, p.id)
		}
		if register {
			if r.uni.add(p.id) {
				r.dirty.Add(1)
			}
		} else if !r.uni.contains(p.id) {
			return nil
		}
		ids = append(ids, p.id)
	} else {
		for id := t.Seek(maxID); id != end; id = t.Seek(id - 1) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	ix := r.ensure(name)
	if ix.loadErr != nil {
		return fmt.Errorf("ray: attribute %q: %w", name, ix.loadErr)
	}
	for _, id := range ids {
		if apply(ix, id) {
			r.dirty.Add(1)
		}
	}
	return nil
}

func (c *Cursor) String() string {
	switch c.pos {
	case top:
		return "cursor(top)"
	case end:
		return "cursor(end)"
	}
	return "cursor(" + strconv.FormatUint(c.pos, 10) + ")"
}

// Msg is a read view of one message of a ray.
type Msg struct {
	r  *Ray
	id uint64
}

// ID is the message id; 0 for the view of an empty cursor.
func (m Msg) ID() uint64 { return m.id }

// Attr returns the first value of name.
func (m Msg) Attr(name string) (string, bool) {
	if m.r == nil || m.id == 0 {
		return "", false
	}
	return m.r.Attr(m.id, name)
}

// Values returns every value of name, ascending.
func (m Msg) Values(name string) []string {
	if m.r == nil || m.id == 0 {
		return nil
	}
	return m.r.Values(m.id, name)
}

// Has reports whether name holds value.
func (m Msg) Has(name, value string) bool {
	if m.r == nil || m.id == 0 {
		return false
	}
	ix := m.r.lookup(name)
	return ix != nil && ix.has(m.id, value)
}
