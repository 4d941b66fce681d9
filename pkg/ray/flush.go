package ray

import (
	"context"
	"fmt"
)

// Flush writes the ray into a new snapshot and publishes it. A ray without
// changes since the last flush writes nothing. When Flush fails the
// previously published snapshot stays current.
func (r *Ray) Flush(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.flush(ctx)
}

func (r *Ray) flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	mark := r.dirty.Load()
	if mark == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// every attribute of the current snapshot must be in memory, or the new
	// snapshot would lose it
	r.amu.RLock()
	base := r.base
	r.amu.RUnlock()
	if base != nil {
		for _, a := range base.Attributes() {
			if ix := r.lookup(a.Name); ix != nil && ix.loadErr != nil {
				return fmt.Errorf("ray: flush: attribute %q: %w", a.Name, ix.loadErr)
			}
		}
	}

	snap, err := r.files.Next()
	if err != nil {
		return fmt.Errorf("ray: flush: %w", err)
	}
	w, err := r.files.Create(snap)
	if err != nil {
		return fmt.Errorf("ray: flush: %w", err)
	}

	indexes := r.indexes()
	for _, ix := range indexes {
		w.Attribute(ix.attribute(), ix.records())
	}
	// ids last: every id an attribute mentions was registered before it
	ids := r.uni.ids()
	w.IDs(ids)

	if err := ctx.Err(); err != nil {
		w.Abort()
		return err
	}
	_, err = w.Commit()
	if err == nil {
		err = r.files.Publish(snap)
	}
	r.log.LogFlush(ctx, snap.Tag, len(indexes), len(ids), err)
	if err != nil {
		return fmt.Errorf("ray: flush: %w", err)
	}

	reader, err := r.files.Open(snap)
	if err != nil {
		return fmt.Errorf("ray: reopen %s: %w", snap, err)
	}
	r.amu.Lock()
	r.base = reader
	r.amu.Unlock()

	r.dirty.Add(-mark)
	r.flushes.Add(1)
	return nil
}

// Close flushes and releases the ray. Other calls return ErrClosed
// afterwards; the ray is closed even when the final flush fails.
func (r *Ray) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.flush(context.Background()); err != nil {
		return fmt.Errorf("ray: final flush: %w", err)
	}
	return nil
}
