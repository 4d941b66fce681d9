package snapshot

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/pool"
)

// Record is one "<id> <value>" line of an attribute file.
type Record struct {
	ID    uint64
	Value string
}

// Writer fills a snapshot in a temporary directory. Nothing is visible under
// the final name until Commit succeeds.
type Writer struct {
	snap Snapshot
	tmp  string

	g *errgroup.Group

	mu       sync.Mutex
	manifest Manifest
	done     bool
}

func newWriter(snap Snapshot, parallel int) (*Writer, error) {
	tmp := snap.Path() + tmpSuffix
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("snapshot: clear %s: %w", filepath.Base(tmp), err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", filepath.Base(tmp), err)
	}
	g := new(errgroup.Group)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	return &Writer{
		snap: snap,
		tmp:  tmp,
		g:    g,
		manifest: Manifest{
			Version: FormatVersion,
			Tag:     snap.Tag,
			Created: time.Now().UTC(),
		},
	}, nil
}

// Snapshot is the snapshot being written.
func (w *Writer) Snapshot() Snapshot { return w.snap }

// IDs schedules the id map. ids must be ascending.
func (w *Writer) IDs(ids []uint64) {
	w.g.Go(func() error {
		entry, err := writeLines(filepath.Join(w.tmp, idsFile), len(ids), func(buf []byte, i int) []byte {
			return strconv.AppendUint(buf, ids[i], 10)
		})
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.manifest.IDs = entry
		w.mu.Unlock()
		return nil
	})
}

// Attribute schedules one attribute file. records must be sorted by id;
// values of a multi-valued attribute appear as repeated ids.
func (w *Writer) Attribute(a attr.Attribute, records []Record) {
	w.g.Go(func() error {
		entry, err := writeLines(filepath.Join(w.tmp, attributeFile(a.Name)), len(records), func(buf []byte, i int) []byte {
			buf = strconv.AppendUint(buf, records[i].ID, 10)
			buf = append(buf, ' ')
			return strconv.AppendQuote(buf, records[i].Value)
		})
		if err != nil {
			return fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		w.mu.Lock()
		w.manifest.Attributes = append(w.manifest.Attributes, AttributeEntry{Attribute: a, FileEntry: entry})
		w.mu.Unlock()
		return nil
	})
}

// Commit waits for every scheduled file, writes the manifest and renames the
// temporary directory to its final name. On error the temporary directory is
// removed and any earlier snapshot is untouched.
func (w *Writer) Commit() (*Manifest, error) {
	if w.done {
		return nil, fmt.Errorf("snapshot: writer for %s already finished", w.snap.Tag)
	}
	w.done = true

	if err := w.g.Wait(); err != nil {
		os.RemoveAll(w.tmp)
		return nil, fmt.Errorf("snapshot: write %s: %w", w.snap.Tag, err)
	}
	slices.SortFunc(w.manifest.Attributes, func(a, b AttributeEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	if err := writeManifest(w.tmp, &w.manifest); err != nil {
		os.RemoveAll(w.tmp)
		return nil, err
	}
	if err := syncDir(w.tmp); err != nil {
		os.RemoveAll(w.tmp)
		return nil, fmt.Errorf("snapshot: sync %s: %w", w.snap.Tag, err)
	}

	final := w.snap.Path()
	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(w.tmp)
		return nil, fmt.Errorf("snapshot: replace %s: %w", w.snap.Tag, err)
	}
	if err := os.Rename(w.tmp, final); err != nil {
		os.RemoveAll(w.tmp)
		return nil, fmt.Errorf("snapshot: rename %s: %w", w.snap.Tag, err)
	}
	if err := syncDir(w.snap.Dir.Path()); err != nil {
		return nil, fmt.Errorf("snapshot: sync directory: %w", err)
	}
	m := w.manifest
	return &m, nil
}

// Abort discards everything written so far.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.g.Wait()
	os.RemoveAll(w.tmp)
}

// writeLines writes n newline-terminated lines produced by line, fsyncs the
// file and returns its manifest entry.
func writeLines(path string, n int, line func(buf []byte, i int) []byte) (FileEntry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return FileEntry{}, err
	}
	defer f.Close()

	hash, _ := blake2b.New256(nil)
	bw := bufio.NewWriterSize(io.MultiWriter(f, hash), 64*1024)

	buf := pool.GetByteBuffer()
	defer func() { pool.PutByteBuffer(buf) }()

	for i := 0; i < n; i++ {
		buf = line(buf[:0], i)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return FileEntry{}, err
		}
	}
	if err := bw.Flush(); err != nil {
		return FileEntry{}, err
	}
	if err := f.Sync(); err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		File:     filepath.Base(path),
		Records:  n,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
	}, f.Close()
}
