package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/orneryd/boutinf/pkg/logging"
)

// Files manages the snapshots of one Directory.
type Files struct {
	dir      Directory
	keep     int
	parallel int
	log      *logging.Logger
}

// Options configure Files.
type Options struct {
	// Keep is how many superseded snapshots survive a Publish.
	Keep int
	// Parallel bounds the files written at once. Zero means unbounded.
	Parallel int
	Logger   *logging.Logger
}

// NewFiles manages the snapshots under dir.
func NewFiles(dir Directory, opts Options) *Files {
	if opts.Keep < 0 {
		opts.Keep = 0
	}
	return &Files{
		dir:      dir,
		keep:     opts.Keep,
		parallel: opts.Parallel,
		log:      logging.OrNoop(opts.Logger).WithComponent("snapshot"),
	}
}

// Dir is the managed directory.
func (f *Files) Dir() Directory { return f.dir }

// Create starts writing snap.
func (f *Files) Create(snap Snapshot) (*Writer, error) {
	return newWriter(snap, f.parallel)
}

// Next returns a snapshot tagged one past the newest existing one.
func (f *Files) Next() (Snapshot, error) {
	all, err := f.List()
	if err != nil {
		return Snapshot{}, err
	}
	var seq uint64
	if len(all) > 0 {
		last, err := ParseTag(all[len(all)-1].Tag)
		if err != nil {
			return Snapshot{}, err
		}
		seq = last + 1
	}
	return Snapshot{Dir: f.dir, Tag: FormatTag(seq)}, nil
}

// List returns the committed snapshots, oldest first.
func (f *Files) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(f.dir.Path())
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	var out []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if tag, ok := tagOf(e.Name()); ok {
			out = append(out, Snapshot{Dir: f.dir, Tag: tag})
		}
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.Tag, b.Tag) })
	return out, nil
}

// Current returns the published snapshot, or ErrNoSnapshot.
func (f *Files) Current() (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(f.dir.Path(), currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read %s: %w", currentFile, err)
	}
	tag := string(bytes.TrimSpace(data))
	if _, err := ParseTag(tag); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s holds %q", ErrCorrupt, currentFile, tag)
	}
	snap := Snapshot{Dir: f.dir, Tag: tag}
	if _, err := os.Stat(snap.Path()); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s points at missing %s", ErrCorrupt, currentFile, snap.Name())
	}
	return snap, nil
}

// Publish makes snap the current snapshot, then prunes old ones.
func (f *Files) Publish(snap Snapshot) error {
	if _, err := os.Stat(filepath.Join(snap.Path(), manifestFile)); err != nil {
		return fmt.Errorf("snapshot: publish %s: %w", snap.Tag, err)
	}
	tmp := filepath.Join(f.dir.Path(), currentFile+tmpSuffix)
	if err := writeFileSync(tmp, []byte(snap.Tag+"\n")); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(f.dir.Path(), currentFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: publish %s: %w", snap.Tag, err)
	}
	if err := syncDir(f.dir.Path()); err != nil {
		return fmt.Errorf("snapshot: sync directory: %w", err)
	}
	f.prune(snap)
	return nil
}

// Open reads the manifest of snap.
func (f *Files) Open(snap Snapshot) (*Reader, error) {
	m, err := readManifest(snap.Path())
	if err != nil {
		return nil, err
	}
	if m.Tag != snap.Tag {
		return nil, fmt.Errorf("%w: manifest tag %q in %s", ErrCorrupt, m.Tag, snap.Name())
	}
	return &Reader{snap: snap, manifest: m, log: f.log}, nil
}

// prune removes leftover temporary directories and all but the newest keep
// snapshots older than current.
func (f *Files) prune(current Snapshot) {
	entries, err := os.ReadDir(f.dir.Path())
	if err != nil {
		f.log.Warn("prune: list failed", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), dirPrefix) && strings.HasSuffix(e.Name(), tmpSuffix) {
			if e.Name() == current.Name()+tmpSuffix {
				continue
			}
			if err := os.RemoveAll(filepath.Join(f.dir.Path(), e.Name())); err != nil {
				f.log.Warn("prune: remove temp failed", "dir", e.Name(), "error", err)
			}
		}
	}

	all, err := f.List()
	if err != nil {
		f.log.Warn("prune: list failed", "error", err)
		return
	}
	var older []Snapshot
	for _, s := range all {
		if s.Tag < current.Tag {
			older = append(older, s)
		}
	}
	if len(older) <= f.keep {
		return
	}
	for _, s := range older[:len(older)-f.keep] {
		if err := os.RemoveAll(s.Path()); err != nil {
			f.log.Warn("prune: remove failed", "snapshot", s.Tag, "error", err)
			continue
		}
		f.log.Debug("pruned snapshot", "snapshot", s.Tag)
	}
}
