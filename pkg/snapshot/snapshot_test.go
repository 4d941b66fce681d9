package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/boutinf/pkg/attr"
)

func setupFiles(t *testing.T, keep int) *Files {
	t.Helper()
	dir, err := NewDirectory(t.TempDir())
	require.NoError(t, err)
	return NewFiles(dir, Options{Keep: keep, Parallel: 2})
}

func writeSnapshot(t *testing.T, f *Files, ids []uint64, attrs map[string][]Record) Snapshot {
	t.Helper()
	snap, err := f.Next()
	require.NoError(t, err)
	w, err := f.Create(snap)
	require.NoError(t, err)
	w.IDs(ids)
	for name, recs := range attrs {
		w.Attribute(attr.New(name, attr.Text), recs)
	}
	_, err = w.Commit()
	require.NoError(t, err)
	require.NoError(t, f.Publish(snap))
	return snap
}

// =============================================================================
// Directory Tests
// =============================================================================

func TestNewDirectory(t *testing.T) {
	t.Run("existing directory", func(t *testing.T) {
		d, err := NewDirectory(t.TempDir())
		require.NoError(t, err)
		assert.NotEmpty(t, d.Path())
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := NewDirectory(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, ErrNotDir)
	})

	t.Run("regular file", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		_, err := NewDirectory(p)
		assert.ErrorIs(t, err, ErrNotDir)
	})

	t.Run("ensure creates parents", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "a", "b")
		d, err := EnsureDirectory(p)
		require.NoError(t, err)
		assert.Equal(t, p, d.Path())
	})
}

func TestTags(t *testing.T) {
	assert.Equal(t, "0000000007", FormatTag(7))
	n, err := ParseTag("0000000042")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	_, err = ParseTag("latest")
	assert.Error(t, err)

	_, ok := tagOf("snapshot-0000000003.tmp")
	assert.False(t, ok)
	tag, ok := tagOf("snapshot-0000000003")
	assert.True(t, ok)
	assert.Equal(t, "0000000003", tag)
}

// =============================================================================
// Round Trip Tests
// =============================================================================

func TestWriteAndRead(t *testing.T) {
	f := setupFiles(t, 1)

	_, err := f.Current()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	snap := writeSnapshot(t, f, []uint64{1, 2, 5}, map[string][]Record{
		"var:text": {
			{ID: 1, Value: "hello"},
			{ID: 2, Value: "with space and\nnewline"},
			{ID: 5, Value: `quote " inside`},
		},
		"bout:participants": {
			{ID: 1, Value: "urn:test:a"},
			{ID: 1, Value: "urn:test:b"},
		},
	})

	cur, err := f.Current()
	require.NoError(t, err)
	assert.Equal(t, snap.Tag, cur.Tag)

	r, err := f.Open(cur)
	require.NoError(t, err)

	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 5}, ids)

	recs, ok, err := r.Attribute("var:text")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, recs, 3)
	assert.Equal(t, "with space and\nnewline", recs[1].Value)
	assert.Equal(t, `quote " inside`, recs[2].Value)

	recs, ok, err = r.Attribute("bout:participants")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, recs, 2)

	_, ok, err = r.Attribute("absent")
	assert.NoError(t, err)
	assert.False(t, ok)

	names := []string{}
	for _, a := range r.Attributes() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"bout:participants", "var:text"}, names)
}

func TestTagInDirectoryName(t *testing.T) {
	f := setupFiles(t, 5)
	snap := writeSnapshot(t, f, []uint64{1}, nil)
	assert.DirExists(t, filepath.Join(f.Dir().Path(), "snapshot-"+snap.Tag))
}

func TestAbortLeavesNothing(t *testing.T) {
	f := setupFiles(t, 1)
	snap, err := f.Next()
	require.NoError(t, err)
	w, err := f.Create(snap)
	require.NoError(t, err)
	w.IDs([]uint64{1, 2})
	w.Abort()

	assert.NoDirExists(t, snap.Path())
	assert.NoDirExists(t, snap.Path()+tmpSuffix)
	_, err = f.Current()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCommitTwice(t *testing.T) {
	f := setupFiles(t, 1)
	snap, err := f.Next()
	require.NoError(t, err)
	w, err := f.Create(snap)
	require.NoError(t, err)
	w.IDs(nil)
	_, err = w.Commit()
	require.NoError(t, err)
	_, err = w.Commit()
	assert.Error(t, err)
}

// =============================================================================
// Publish and Prune Tests
// =============================================================================

func TestPublishPrunes(t *testing.T) {
	f := setupFiles(t, 1)

	var last Snapshot
	for i := 0; i < 4; i++ {
		last = writeSnapshot(t, f, []uint64{uint64(i + 1)}, nil)
	}

	all, err := f.List()
	require.NoError(t, err)
	require.Len(t, all, 2, "current plus one kept")
	assert.Equal(t, last.Tag, all[1].Tag)

	cur, err := f.Current()
	require.NoError(t, err)
	assert.Equal(t, last.Tag, cur.Tag)
}

func TestPublishRemovesStaleTemp(t *testing.T) {
	f := setupFiles(t, 0)
	stale := filepath.Join(f.Dir().Path(), "snapshot-0000000099"+tmpSuffix)
	require.NoError(t, os.MkdirAll(stale, 0o755))

	writeSnapshot(t, f, []uint64{1}, nil)
	assert.NoDirExists(t, stale)
}

func TestPublishUncommitted(t *testing.T) {
	f := setupFiles(t, 0)
	err := f.Publish(Snapshot{Dir: f.Dir(), Tag: FormatTag(3)})
	assert.Error(t, err)
}

// =============================================================================
// Corruption Tests
// =============================================================================

func TestChecksumMismatch(t *testing.T) {
	f := setupFiles(t, 0)
	snap := writeSnapshot(t, f, []uint64{1, 2}, map[string][]Record{
		"var:text": {{ID: 1, Value: "a"}, {ID: 2, Value: "b"}},
	})

	p := filepath.Join(snap.Path(), attributeFile("var:text"))
	require.NoError(t, os.WriteFile(p, []byte("1 \"a\"\n2 \"c\"\n"), 0o644))

	r, err := f.Open(snap)
	require.NoError(t, err)
	_, _, err = r.Attribute("var:text")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTornFinalLine(t *testing.T) {
	f := setupFiles(t, 0)
	snap := writeSnapshot(t, f, []uint64{1, 2}, map[string][]Record{
		"var:text": {{ID: 1, Value: "a"}, {ID: 2, Value: "b"}},
	})

	// a manifest without checksums accepts the file as long as it parses
	m, err := readManifest(snap.Path())
	require.NoError(t, err)
	for i := range m.Attributes {
		m.Attributes[i].Checksum = ""
	}
	require.NoError(t, writeManifest(snap.Path(), m))

	p := filepath.Join(snap.Path(), attributeFile("var:text"))
	require.NoError(t, os.WriteFile(p, []byte("1 \"a\"\n2 \"b"), 0o644))

	r, err := f.Open(snap)
	require.NoError(t, err)
	recs, ok, err := r.Attribute("var:text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Record{{ID: 1, Value: "a"}}, recs)
}

func TestBadLineInMiddle(t *testing.T) {
	f := setupFiles(t, 0)
	snap := writeSnapshot(t, f, []uint64{1}, map[string][]Record{
		"var:text": {{ID: 1, Value: "a"}},
	})
	m, err := readManifest(snap.Path())
	require.NoError(t, err)
	m.Attributes[0].Checksum = ""
	require.NoError(t, writeManifest(snap.Path(), m))

	p := filepath.Join(snap.Path(), attributeFile("var:text"))
	require.NoError(t, os.WriteFile(p, []byte("garbage\n1 \"a\"\n"), 0o644))

	r, err := f.Open(snap)
	require.NoError(t, err)
	_, _, err = r.Attribute("var:text")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCurrentPointsAtMissing(t *testing.T) {
	f := setupFiles(t, 0)
	require.NoError(t, os.WriteFile(filepath.Join(f.Dir().Path(), currentFile), []byte("0000000004\n"), 0o644))
	_, err := f.Current()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestAttributeFileNames(t *testing.T) {
	assert.Equal(t, "attr-var:text.txt", attributeFile("var:text"))
	assert.Equal(t, "attr-a%2Fb.txt", attributeFile("a/b"))
}
