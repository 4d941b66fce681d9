package snapshot

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/boutinf/pkg/attr"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

const (
	manifestFile = "MANIFEST.yaml"
	idsFile      = "ids.map"
	currentFile  = "CURRENT"
	dirPrefix    = "snapshot-"
	tmpSuffix    = ".tmp"
)

// FileEntry describes one data file of a snapshot.
type FileEntry struct {
	File     string `yaml:"file"`
	Records  int    `yaml:"records"`
	Checksum string `yaml:"blake2b"`
}

// AttributeEntry describes one attribute file.
type AttributeEntry struct {
	attr.Attribute `yaml:",inline"`
	FileEntry      `yaml:",inline"`
}

// Manifest lists the content of a snapshot.
type Manifest struct {
	Version    int              `yaml:"version"`
	Tag        string           `yaml:"tag"`
	Created    time.Time        `yaml:"created"`
	IDs        FileEntry        `yaml:"ids"`
	Attributes []AttributeEntry `yaml:"attributes"`
}

// Attribute finds the entry for name.
func (m *Manifest) Attribute(name string) (AttributeEntry, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeEntry{}, false
}

// attributeFile maps an attribute name to a safe file name.
func attributeFile(name string) string {
	return "attr-" + url.PathEscape(name) + ".txt"
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, m.Version)
	}
	return &m, nil
}

func writeManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	return writeFileSync(filepath.Join(dir, manifestFile), data)
}

// writeFileSync writes data and fsyncs before closing.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// syncDir fsyncs a directory so renames inside it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
