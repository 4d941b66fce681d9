package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/motor"
	"github.com/orneryd/boutinf/pkg/predicate"
	"github.com/orneryd/boutinf/pkg/ray"
	"github.com/orneryd/boutinf/pkg/snapshot"
)

// stubMotor owns a fixed set of operators and answers them with a fixed set
// of ids.
type stubMotor struct {
	name string
	ops  []string
	ids  []uint64
}

func (m *stubMotor) Name() string { return m.name }

func (m *stubMotor) PointsTo(op string) bool {
	for _, o := range m.ops {
		if o == op {
			return true
		}
	}
	return false
}

func (m *stubMotor) Build(op string, args []predicate.Atom) (predicate.Predicate, error) {
	if len(args) > 0 && args[0].Value == "fail" {
		return nil, fmt.Errorf("%w: refused", predicate.ErrArgument)
	}
	return predicate.NewSet(m.ids...), nil
}

func (m *stubMotor) See(context.Context, message.Message) error { return nil }

func (m *stubMotor) Statistics() string { return "stub" }

func setupBuilder(t *testing.T, n int, motors ...motor.Motor) (*Builder, *ray.Ray) {
	t.Helper()
	dir, err := snapshot.NewDirectory(t.TempDir())
	require.NoError(t, err)
	r, err := ray.Open(dir, ray.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	set := motor.NewSet(nil)
	vars, err := motor.NewVars(r)
	require.NoError(t, err)
	texts, err := motor.NewTexts(r)
	require.NoError(t, err)
	require.NoError(t, set.Register(vars))
	require.NoError(t, set.Register(texts))
	for _, m := range motors {
		require.NoError(t, set.Register(m))
	}

	ctx := context.Background()
	for i := 1; i <= n; i++ {
		msg := message.Message{
			ID:     uint64(i),
			Text:   fmt.Sprintf("message number %d", i),
			Author: "urn:test:author",
			Date:   time.Date(2024, 1, i, 0, 0, 0, 0, time.UTC),
			Bout:   message.Bout{ID: uint64(i%3 + 1), Title: "weekly sync"},
		}
		if i == 4 {
			msg.Text = "hi"
		}
		require.Zero(t, set.SeeAll(ctx, msg))
	}
	return NewBuilder(r, set, BuilderOptions{CacheSize: 16, CacheTTL: time.Minute}), r
}

func run(t *testing.T, b *Builder, q string) []uint64 {
	t.Helper()
	p, err := b.Build(q)
	require.NoError(t, err)
	var out []uint64
	for p.HasNext() {
		id, err := p.Next()
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

// =============================================================================
// Built-in Operator Tests
// =============================================================================

func TestBuildBuiltins(t *testing.T) {
	b, _ := setupBuilder(t, 10)

	tests := []struct {
		query string
		want  []uint64
	}{
		{"(and (from 3) (limit 6))", []uint64{7, 6, 5, 4, 3, 2}},
		{"(or (pos 5) (equal $text 'hi'))", []uint64{5, 4}},
		{"(equal $bout.number 2)", []uint64{10, 7, 4, 1}},
		{"(greater-than $number 8)", []uint64{10, 9}},
		{"(less-than $date 2024-01-03)", []uint64{2, 1}},
		{"(not (greater-than $number 2))", []uint64{2, 1}},
		{"(and (and) (or))", nil},
		{"(and)", []uint64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, b, tt.query))
		})
	}
}

func TestBuildMotorOperators(t *testing.T) {
	b, _ := setupBuilder(t, 6)

	t.Run("matches", func(t *testing.T) {
		assert.Equal(t, []uint64{6, 5, 3, 2, 1}, run(t, b, "(matches 'message' $text)"))
	})

	t.Run("free text", func(t *testing.T) {
		assert.Len(t, run(t, b, "weekly"), 6)
		// short words are not indexed, so "6" is ignored
		assert.Equal(t, []uint64{6, 5, 3, 2, 1}, run(t, b, "number 6"))
	})

	t.Run("unique", func(t *testing.T) {
		assert.Equal(t, []uint64{6, 5, 4}, run(t, b, "(unique $bout.number)"))
	})
}

// =============================================================================
// Resolution Tests
// =============================================================================

func TestResolutionOrder(t *testing.T) {
	first := &stubMotor{name: "first", ops: []string{"custom", "limit"}, ids: []uint64{1}}
	second := &stubMotor{name: "second", ops: []string{"custom"}, ids: []uint64{2}}
	b, _ := setupBuilder(t, 5, first, second)

	assert.Equal(t, []uint64{1}, run(t, b, "(custom)"), "first registered motor wins")
	assert.Len(t, run(t, b, "(limit 2)"), 2, "built-ins win over motors")
}

func TestBuildErrors(t *testing.T) {
	b, _ := setupBuilder(t, 2, &stubMotor{name: "stub", ops: []string{"stub"}})

	t.Run("unknown operator", func(t *testing.T) {
		_, err := b.Build("(and (frobnicate 1))")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownOperator)
		assert.ErrorIs(t, err, ErrInvalidSyntax)
		var unk *UnknownOperatorError
		require.True(t, errors.As(err, &unk))
		assert.Equal(t, "frobnicate", unk.Op)
		assert.Equal(t, 6, unk.Pos)
	})

	bad := []string{
		"(and 1)",
		"(not)",
		"(not (and) (and))",
		"(equal $text)",
		"(equal (and) 1)",
		"(limit x)",
		"(limit -1)",
		"(from)",
		"(stub fail)",
		"(matches $text)",
		"(unique 'x')",
	}
	for _, q := range bad {
		t.Run(q, func(t *testing.T) {
			_, err := b.Build(q)
			assert.ErrorIs(t, err, ErrInvalidSyntax)
		})
	}

	unbalanced := []string{
		"(and",
		"(and (from 3) (limit 6)",
		"(ns 'x') junk",
		"(or (pos 1)))",
	}
	for _, q := range unbalanced {
		t.Run("unbalanced "+q, func(t *testing.T) {
			_, err := b.Build(q)
			require.Error(t, err, "never a free-text search")
			assert.ErrorIs(t, err, ErrInvalidSyntax)
		})
	}

	t.Run("motor error is kept", func(t *testing.T) {
		_, err := b.Build("(stub fail)")
		assert.ErrorIs(t, err, predicate.ErrArgument)
	})
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestParseCache(t *testing.T) {
	b, _ := setupBuilder(t, 3)

	e1, err := b.Parse("(limit 1)")
	require.NoError(t, err)
	e2, err := b.Parse(" (limit 1) ")
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.Equal(t, uint64(1), b.CacheStats().Hits)

	// predicates are fresh even when the expression is cached
	assert.Len(t, run(t, b, "(limit 1)"), 1)
	assert.Len(t, run(t, b, "(limit 1)"), 1)
}

func TestWithoutMotors(t *testing.T) {
	_, r := setupBuilder(t, 1)
	nb := NewBuilder(r, nil, BuilderOptions{})
	_, err := nb.Build("(matches 'x' $text)")
	assert.ErrorIs(t, err, ErrUnknownOperator)

	_, err = nb.Parse("(and)")
	require.NoError(t, err)
	assert.Zero(t, nb.CacheStats().Hits, "caching is off")
}
