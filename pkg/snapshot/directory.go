// Package snapshot implements the durable checkpoint format of the ray.
//
// A snapshot is a directory named snapshot-<tag> under a Directory:
//
//	snapshot-0000000007/
//	  MANIFEST.yaml        format version, attributes, checksums
//	  ids.map              one message id per line, ascending
//	  attr-var-text.txt    "<id> <quoted value>" per line, ascending id
//	  ...
//	CURRENT                tag of the published snapshot
//
// Snapshots are written into a temporary directory and renamed into place,
// and CURRENT is replaced by rename too, so a crash never damages the
// snapshot a fresh ray would load.
package snapshot

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors.
var (
	ErrNoSnapshot = errors.New("snapshot: nothing published")
	ErrCorrupt    = errors.New("snapshot: corrupt")
	ErrNotDir     = errors.New("snapshot: not a writable directory")
)

// Directory is a durable, writable location. Attaching or mounting the
// backing volume is the caller's business; by the time a Directory exists the
// path is ready.
type Directory interface {
	Path() string
}

// Local is a Directory on the local file system.
type Local string

// Path returns the directory path.
func (d Local) Path() string { return string(d) }

// NewDirectory verifies that path exists, is a directory and accepts new
// files.
func NewDirectory(path string) (Directory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, path)
	}
	probe, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return Local(path), nil
}

// EnsureDirectory creates path (and parents) if needed, then verifies it.
func EnsureDirectory(path string) (Directory, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDir, err)
	}
	return NewDirectory(path)
}
