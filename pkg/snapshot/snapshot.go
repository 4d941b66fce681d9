package snapshot

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Snapshot names one versioned snapshot directory. The version tag is part
// of the directory name, so two snapshots never share files.
type Snapshot struct {
	Dir Directory
	Tag string
}

// Name is the directory name of the snapshot.
func (s Snapshot) Name() string { return dirPrefix + s.Tag }

// Path is the absolute location of the snapshot directory.
func (s Snapshot) Path() string { return filepath.Join(s.Dir.Path(), s.Name()) }

func (s Snapshot) String() string { return s.Name() }

// FormatTag renders a sequence number as a tag. Tags sort lexically in the
// same order as their numbers.
func FormatTag(seq uint64) string {
	return fmt.Sprintf("%010d", seq)
}

// ParseTag is the inverse of FormatTag.
func ParseTag(tag string) (uint64, error) {
	n, err := strconv.ParseUint(tag, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snapshot: bad tag %q", tag)
	}
	return n, nil
}

// tagOf extracts the tag from a directory name, if it is one of ours.
func tagOf(name string) (string, bool) {
	if !strings.HasPrefix(name, dirPrefix) || strings.HasSuffix(name, tmpSuffix) {
		return "", false
	}
	tag := strings.TrimPrefix(name, dirPrefix)
	if _, err := ParseTag(tag); err != nil {
		return "", false
	}
	return tag, true
}
