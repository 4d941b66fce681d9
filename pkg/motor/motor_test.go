package motor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/pool"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/ray"
	"github.com/orneryd/boutinf/pkg/snapshot"
	"github.com/orneryd/boutinf/pkg/triples"
)

// fakeMotor records what it saw and can be told to fail or panic.
type fakeMotor struct {
	name   string
	ops    []string
	fail   bool
	panics bool
	closed bool
	seen   []uint64
}

func (f *fakeMotor) Name() string { return f.name }

func (f *fakeMotor) PointsTo(op string) bool {
	for _, o := range f.ops {
		if o == op {
			return true
		}
	}
	return false
}

func (f *fakeMotor) Build(string, []predicate.Atom) (predicate.Predicate, error) {
	return predicate.False(), nil
}

func (f *fakeMotor) See(_ context.Context, msg message.Message) error {
	if f.panics {
		panic("boom")
	}
	if f.fail {
		return errors.New("refused")
	}
	f.seen = append(f.seen, msg.ID)
	return nil
}

func (f *fakeMotor) Statistics() string { return fmt.Sprintf("%d seen", len(f.seen)) }

type closingMotor struct{ fakeMotor }

func (c *closingMotor) Close() error {
	c.closed = true
	if c.fail {
		return errors.New("close failed")
	}
	return nil
}

func setupRay(t *testing.T) *ray.Ray {
	t.Helper()
	dir, err := snapshot.NewDirectory(t.TempDir())
	require.NoError(t, err)
	r, err := ray.Open(dir, ray.Options{LatticeRebuild: 4})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func setupStore(t *testing.T) *triples.Store {
	t.Helper()
	store, err := triples.Open(triples.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ids(t *testing.T, p predicate.Predicate) []uint64 {
	t.Helper()
	var out []uint64
	for p.HasNext() {
		id, err := p.Next()
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func msg(id, bout uint64, text string) message.Message {
	return message.Message{
		ID:     id,
		Text:   text,
		Author: "urn:test:jeff",
		Date:   time.Date(2024, 5, 1, 0, 0, 0, int(id), time.UTC),
		Bout:   message.Bout{ID: bout, Title: "release planning"},
	}
}

// =============================================================================
// Set Tests
// =============================================================================

func TestSetRegister(t *testing.T) {
	s := NewSet(nil)
	require.NoError(t, s.Register(&fakeMotor{name: "a", ops: []string{"x"}}))
	require.NoError(t, s.Register(&fakeMotor{name: "b", ops: []string{"x", "y"}}))

	err := s.Register(&fakeMotor{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, s.Motors(), 2)

	t.Run("first registered wins", func(t *testing.T) {
		m, ok := s.Resolve("x")
		require.True(t, ok)
		assert.Equal(t, "a", m.Name())
	})

	t.Run("later motors still resolve", func(t *testing.T) {
		m, ok := s.Resolve("y")
		require.True(t, ok)
		assert.Equal(t, "b", m.Name())
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := s.Resolve("z")
		assert.False(t, ok)
	})
}

func TestSeeAllIsolatesFailures(t *testing.T) {
	good := &fakeMotor{name: "good"}
	bad := &fakeMotor{name: "bad", fail: true}
	wild := &fakeMotor{name: "wild", panics: true}
	last := &fakeMotor{name: "last"}

	s := NewSet(nil)
	for _, m := range []Motor{good, bad, wild, last} {
		require.NoError(t, s.Register(m))
	}
	var failed []string
	s.OnFailure = func(name string) { failed = append(failed, name) }

	n := s.SeeAll(context.Background(), msg(1, 1, "hello"))
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{1}, good.seen)
	assert.Equal(t, []uint64{1}, last.seen, "motors after a panic still see the message")
	assert.Equal(t, []string{"bad", "wild"}, failed)
	assert.Equal(t, uint64(2), s.Failures())

	stats := s.Statistics()
	assert.Contains(t, stats, "good: 1 seen")
	assert.Contains(t, stats, "last: 1 seen")
}

func TestSetClose(t *testing.T) {
	ok := &closingMotor{fakeMotor{name: "ok"}}
	broken := &closingMotor{fakeMotor{name: "broken", fail: true}}
	s := NewSet(nil)
	require.NoError(t, s.Register(ok))
	require.NoError(t, s.Register(&fakeMotor{name: "plain"}))
	require.NoError(t, s.Register(broken))

	err := s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, ok.closed)
	assert.True(t, broken.closed)
}

// =============================================================================
// Vars Tests
// =============================================================================

func TestVarsSee(t *testing.T) {
	r := setupRay(t)
	v, err := NewVars(r)
	require.NoError(t, err)

	m := msg(7, 3, "first draft")
	m.AuthorAlias = "jeff"
	require.NoError(t, v.See(context.Background(), m))

	assert.Equal(t, []string{"first draft"}, r.Values(7, predicate.AttributeOf(VarText)))
	assert.Equal(t, []string{"7"}, r.Values(7, predicate.AttributeOf(VarNumber)))
	assert.Equal(t, []string{"3"}, r.Values(7, predicate.AttributeOf(VarBoutNumber)))
	assert.Equal(t, []string{"jeff"}, r.Values(7, predicate.AttributeOf(VarAuthorAlias)))
	assert.Len(t, r.Values(7, predicate.AttributeOf(VarDate)), 1)

	t.Run("seeing again replaces", func(t *testing.T) {
		m.Text = "second draft"
		require.NoError(t, v.See(context.Background(), m))
		assert.Equal(t, []string{"second draft"}, r.Values(7, predicate.AttributeOf(VarText)))
	})

	t.Run("empty values are skipped", func(t *testing.T) {
		require.NoError(t, v.See(context.Background(), message.Message{ID: 8}))
		assert.Empty(t, r.Values(8, predicate.AttributeOf(VarText)))
		assert.Empty(t, r.Values(8, predicate.AttributeOf(VarDate)))
		assert.Empty(t, r.Values(8, predicate.AttributeOf(VarBoutNumber)), "no bout, no bout number")
	})

	assert.Contains(t, v.Statistics(), "3 messages")
}

func TestVarsUnique(t *testing.T) {
	r := setupRay(t)
	v, err := NewVars(r)
	require.NoError(t, err)
	ctx := context.Background()
	for i, bout := range []uint64{1, 2, 1, 3, 2, 1} {
		require.NoError(t, v.See(ctx, msg(uint64(i+1), bout, "x")))
	}

	assert.True(t, v.PointsTo("unique"))
	p, err := v.Build("unique", []predicate.Atom{predicate.Variable(VarBoutNumber)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{6, 5, 4}, ids(t, p))

	_, err = v.Build("unique", []predicate.Atom{predicate.Text("x")})
	assert.ErrorIs(t, err, predicate.ErrArgument)
}

// =============================================================================
// Texts Tests
// =============================================================================

func TestWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello, world!", []string{"HELLO", "WORLD"}},
		{"a an the", []string{"THE"}},
		{"go go GO gopher", []string{"GOPHER"}},
		{"v1.2 release 2024", []string{"RELEASE", "2024"}},
		{"Привет мир", []string{"ПРИВЕТ", "МИР"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Words(tt.in))
		})
	}

	t.Run("returned slices are reused clean", func(t *testing.T) {
		pool.PutStringSlice(Words("alpha beta delta"))
		assert.Equal(t, []string{"GAMMA"}, Words("gamma"))
	})
}

func TestTextsMatches(t *testing.T) {
	r := setupRay(t)
	v, err := NewVars(r)
	require.NoError(t, err)
	tx, err := NewTexts(r)
	require.NoError(t, err)

	ctx := context.Background()
	texts := []string{"ship the release", "release notes drafted", "lunch?", "Ship it"}
	for i, text := range texts {
		m := msg(uint64(i+1), 1, text)
		require.NoError(t, v.See(ctx, m))
		require.NoError(t, tx.See(ctx, m))
	}

	build := func(text, variable string) []uint64 {
		p, err := tx.Build("matches", []predicate.Atom{predicate.Text(text), predicate.Variable(variable)})
		require.NoError(t, err)
		return ids(t, p)
	}

	t.Run("single word", func(t *testing.T) {
		assert.Equal(t, []uint64{2, 1}, build("release", VarText))
	})

	t.Run("every word must match", func(t *testing.T) {
		assert.Equal(t, []uint64{1}, build("SHIP release", VarText))
	})

	t.Run("bout title", func(t *testing.T) {
		assert.Equal(t, []uint64{4, 3, 2, 1}, build("planning", VarBoutTitle))
	})

	t.Run("blank text matches everything", func(t *testing.T) {
		assert.Len(t, build("  ", VarText), 4)
	})

	t.Run("short text falls back to substring", func(t *testing.T) {
		assert.Equal(t, []uint64{4, 1}, build("sh", VarText))
	})

	t.Run("unindexed variable scans", func(t *testing.T) {
		assert.Len(t, build("jeff", VarAuthorName), 4)
	})

	t.Run("bad arguments", func(t *testing.T) {
		_, err := tx.Build("matches", []predicate.Atom{predicate.Variable(VarText)})
		assert.ErrorIs(t, err, predicate.ErrArgument)
	})

	assert.Contains(t, tx.Statistics(), "4 messages")
}

// =============================================================================
// XML Tests
// =============================================================================

func TestRootNamespace(t *testing.T) {
	tests := []struct {
		doc     string
		want    string
		wantErr bool
	}{
		{`<a xmlns="urn:test:foo"><b/></a>`, "urn:test:foo", false},
		{`<?xml version="1.0"?><x:a xmlns:x="urn:test:bar"/>`, "urn:test:bar", false},
		{`<a/>`, "", false},
		{`<a><b></a>`, "", true},
		{`<?xml version="1.0"?>`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			ns, err := RootNamespace(tt.doc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ns)
		})
	}
}

func TestXMLNamespace(t *testing.T) {
	x := NewXML(setupStore(t))
	ctx := context.Background()

	require.NoError(t, x.See(ctx, msg(1, 1, `<doc xmlns="urn:test:foo"/>`)))
	require.NoError(t, x.See(ctx, msg(2, 1, "plain text")))
	require.NoError(t, x.See(ctx, msg(3, 1, ` <doc xmlns="urn:test:foo"><p/></doc>`)))
	require.NoError(t, x.See(ctx, msg(4, 1, `<doc xmlns="urn:test:bar"/>`)))
	assert.Error(t, x.See(ctx, msg(5, 1, "<broken")))

	p, err := x.Build("ns", []predicate.Atom{predicate.Text("urn:test:foo")})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1}, ids(t, p))

	p, err = x.Build("ns", []predicate.Atom{predicate.Text("urn:test:none")})
	require.NoError(t, err)
	assert.Empty(t, ids(t, p))

	_, err = x.Build("ns", nil)
	assert.ErrorIs(t, err, predicate.ErrArgument)

	assert.Equal(t, "5 messages, 3 with namespace, 1 malformed", x.Statistics())
}

// =============================================================================
// Participants Tests
// =============================================================================

func TestParticipantsTalksWith(t *testing.T) {
	p, err := NewParticipants(setupStore(t))
	require.NoError(t, err)
	ctx := context.Background()

	see := func(id, bout uint64, who ...string) {
		m := msg(id, bout, "hi")
		m.Bout.Participants = who
		require.NoError(t, p.See(ctx, m))
	}
	see(1, 10, "urn:test:A", "urn:test:B")
	see(2, 20, "urn:test:B")
	see(3, 10, "urn:test:A", "urn:test:B")
	see(4, 30, "urn:test:C")
	see(5, 20, "urn:test:B", "urn:test:A")

	talks := func(who string) []uint64 {
		pred, err := p.Build("talks-with", []predicate.Atom{predicate.Text(who)})
		require.NoError(t, err)
		return ids(t, pred)
	}
	assert.Equal(t, []uint64{5, 3, 2, 1}, talks("urn:test:A"))
	assert.Equal(t, []uint64{4}, talks("urn:test:C"))
	assert.Empty(t, talks("urn:test:nobody"))

	bout, err := p.Bout(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bout)

	_, err = p.Bout(99)
	assert.ErrorIs(t, err, triples.ErrMissingTriple)

	t.Run("messages without a bout are ignored", func(t *testing.T) {
		require.NoError(t, p.See(ctx, message.Message{ID: 6}))
		_, err := p.Bout(6)
		assert.ErrorIs(t, err, triples.ErrMissingTriple)
	})

	assert.True(t, strings.HasPrefix(p.Statistics(), "5 messages"))
}

// =============================================================================
// Bundles Tests
// =============================================================================

func TestMarker(t *testing.T) {
	assert.Equal(t, "[a, b]", Marker([]string{"b", "a", "", "b"}))
	assert.Equal(t, "[]", Marker(nil))
}

func TestBundles(t *testing.T) {
	r := setupRay(t)
	v, err := NewVars(r)
	require.NoError(t, err)
	bn, err := NewBundles(r, setupStore(t))
	require.NoError(t, err)
	ctx := context.Background()

	see := func(id, bout uint64, people ...string) {
		t.Helper()
		m := msg(id, bout, "x")
		m.Bout.Participants = people
		require.NoError(t, v.See(ctx, m))
		require.NoError(t, bn.See(ctx, m))
	}
	build := func(op string, args ...predicate.Atom) []uint64 {
		t.Helper()
		p, err := bn.Build(op, args)
		require.NoError(t, err)
		return ids(t, p)
	}

	see(1, 1, "urn:test:A", "urn:test:B")
	see(2, 2, "urn:test:B", "urn:test:A")
	see(3, 3, "urn:test:C")
	see(4, 1, "urn:test:A", "urn:test:B")
	see(5, 3, "urn:test:C")

	assert.True(t, bn.PointsTo("bundled"))
	assert.True(t, bn.PointsTo("unbundled"))
	assert.False(t, bn.PointsTo("unique"))

	t.Run("bundled keeps the newest of each bundle", func(t *testing.T) {
		assert.Equal(t, []uint64{5, 4}, build("bundled"))
	})

	t.Run("unbundled lists the other bouts of a bundle", func(t *testing.T) {
		assert.Equal(t, []uint64{2}, build("unbundled", predicate.Number(1)))
		assert.Equal(t, []uint64{4, 1}, build("unbundled", predicate.Number(2)))
		assert.Empty(t, build("unbundled", predicate.Number(3)))
		assert.Empty(t, build("unbundled", predicate.Number(99)), "unknown bout")
	})

	t.Run("joining moves the whole bout", func(t *testing.T) {
		see(6, 2, "urn:test:A", "urn:test:B", "urn:test:C")
		marker, ok := r.Attr(2, BundleAttr)
		require.True(t, ok)
		assert.Equal(t, "[urn:test:A, urn:test:B, urn:test:C]", marker)

		assert.Equal(t, []uint64{6, 5, 4}, build("bundled"))
		assert.Empty(t, build("unbundled", predicate.Number(1)))
	})

	t.Run("messages without a bout stand alone", func(t *testing.T) {
		require.NoError(t, v.See(ctx, message.Message{ID: 7}))
		require.NoError(t, bn.See(ctx, message.Message{ID: 7}))
		_, ok := r.Attr(7, BundleAttr)
		assert.False(t, ok)
		assert.Contains(t, build("bundled"), uint64(7))
	})

	t.Run("bad arguments", func(t *testing.T) {
		_, err := bn.Build("bundled", []predicate.Atom{predicate.Number(1)})
		assert.ErrorIs(t, err, predicate.ErrArgument)
		_, err = bn.Build("unbundled", []predicate.Atom{predicate.Text("x")})
		assert.ErrorIs(t, err, predicate.ErrArgument)
		_, err = bn.Build("unbundled", []predicate.Atom{predicate.Number(0)})
		assert.ErrorIs(t, err, predicate.ErrArgument)
	})

	assert.Equal(t, "6 messages, 1 bouts re-marked", bn.Statistics())
}
