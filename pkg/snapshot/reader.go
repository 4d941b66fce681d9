package snapshot

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/boutinf/pkg/attr"
	"github.com/orneryd/boutinf/pkg/logging"
)

// Reader reads one committed snapshot. Files are read on demand, so a ray
// only pays for the attributes it actually touches.
type Reader struct {
	snap     Snapshot
	manifest *Manifest
	log      *logging.Logger
}

// Manifest returns the snapshot manifest.
func (r *Reader) Manifest() *Manifest { return r.manifest }

// Snapshot returns the snapshot being read.
func (r *Reader) Snapshot() Snapshot { return r.snap }

// Attributes lists the attributes stored in the snapshot.
func (r *Reader) Attributes() []attr.Attribute {
	out := make([]attr.Attribute, 0, len(r.manifest.Attributes))
	for _, a := range r.manifest.Attributes {
		out = append(out, a.Attribute)
	}
	return out
}

// IDs reads the id map, ascending.
func (r *Reader) IDs() ([]uint64, error) {
	ids := make([]uint64, 0, r.manifest.IDs.Records)
	err := r.scan(r.manifest.IDs, func(line []byte) error {
		id, err := strconv.ParseUint(string(line), 10, 64)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Attribute reads the records of one attribute. ok is false when the
// snapshot has no such attribute.
func (r *Reader) Attribute(name string) (records []Record, ok bool, err error) {
	entry, ok := r.manifest.Attribute(name)
	if !ok {
		return nil, false, nil
	}
	records = make([]Record, 0, entry.Records)
	err = r.scan(entry.FileEntry, func(line []byte) error {
		rec, err := parseRecord(line)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, true, err
	}
	return records, true, nil
}

// scan verifies the checksum of one file and feeds its lines to fn. A final
// line without a newline that fails to parse is a torn write and is dropped.
func (r *Reader) scan(entry FileEntry, fn func(line []byte) error) error {
	path := filepath.Join(r.snap.Path(), entry.File)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", entry.File, err)
	}
	defer f.Close()

	hash, _ := blake2b.New256(nil)
	br := bufio.NewReaderSize(io.TeeReader(f, hash), 64*1024)

	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			complete := line[len(line)-1] == '\n'
			if err := fn(bytes.TrimRight(line, "\r\n")); err != nil {
				if !complete {
					r.log.Warn("dropping torn snapshot line",
						"snapshot", r.snap.Tag,
						"file", entry.File,
						"line", lineNo,
					)
					break
				}
				return fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, entry.File, lineNo, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("snapshot: read %s: %w", entry.File, readErr)
		}
	}

	if entry.Checksum != "" {
		// drain whatever a torn line left unread so the hash covers the file
		io.Copy(io.Discard, br)
		if got := hex.EncodeToString(hash.Sum(nil)); got != entry.Checksum {
			return fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, entry.File)
		}
	}
	return nil
}

func parseRecord(line []byte) (Record, error) {
	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return Record{}, fmt.Errorf("missing separator")
	}
	id, err := strconv.ParseUint(string(line[:sp]), 10, 64)
	if err != nil {
		return Record{}, err
	}
	value, err := strconv.Unquote(string(line[sp+1:]))
	if err != nil {
		return Record{}, fmt.Errorf("bad value: %w", err)
	}
	return Record{ID: id, Value: value}, nil
}
