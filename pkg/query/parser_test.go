package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"(and (from 3) (limit 6))", "(and (from 3) (limit 6))"},
		{"(ns 'urn:test:bar')", "(ns 'urn:test:bar')"},
		{`(equal $text "hi")`, "(equal $text 'hi')"},
		{"(or (pos 5) (equal $text 'hi'))", "(or (pos 5) (equal $text 'hi'))"},
		{"  (AND\n\t(from 1))  ", "(and (from 1))"},
		{"(and)", "(and)"},
		{`(equal $text 'it\'s')`, `(equal $text 'it\'s')`},
		{"(equal $bout.number 42)", "(equal $bout.number 42)"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e, err := Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.String())
		})
	}
}

func TestLiteralTyping(t *testing.T) {
	e, err := Parse("(f 42 -7 2024-03-01 2024-03-01T10:00:00Z word 'quoted 1' $bout.title 12345678901234567890)")
	require.NoError(t, err)
	require.Len(t, e.Args, 8)

	kinds := make([]Kind, len(e.Args))
	for i, a := range e.Args {
		kinds[i] = a.Kind
	}
	assert.Equal(t, []Kind{Number, Number, Date, Date, Text, Text, Variable, Text}, kinds)

	n, ok := e.Args[1].Int()
	assert.True(t, ok)
	assert.Equal(t, int64(-7), n)

	ts, ok := e.Args[3].Time()
	assert.True(t, ok)
	assert.Equal(t, 10, ts.Hour())

	assert.Equal(t, "bout.title", e.Args[6].Value)
	assert.Equal(t, "quoted 1", e.Args[5].Value)
}

func TestParsePositions(t *testing.T) {
	e, err := Parse("(and (from 3))")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Pos)
	assert.Equal(t, 6, e.Args[0].Pos)
	assert.Equal(t, 11, e.Args[0].Args[0].Pos)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		token string
		pos   int
	}{
		{"unbalanced open", "(and (from 3)", "(", 0},
		{"unbalanced close", "(and))", ")", 5},
		{"not a call", "hello", "hello", 0},
		{"empty", "", "", 0},
		{"missing operator", "(($x))", "(", 1},
		{"unterminated quote", "(ns 'urn:x)", "'urn:x)", 4},
		{"trailing text", "(and) extra", "extra", 6},
		{"empty variable", "(equal $ 1)", "$", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSyntax)

			var syn *InvalidSyntaxError
			require.True(t, errors.As(err, &syn))
			assert.Equal(t, tt.token, syn.Token)
			assert.Equal(t, tt.pos, syn.Pos)
		})
	}
}

func TestDeepNesting(t *testing.T) {
	q := ""
	for i := 0; i < maxDepth+1; i++ {
		q += "(and "
	}
	_, err := Parse(q)
	assert.ErrorIs(t, err, ErrInvalidSyntax)
}

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	assert.Equal(t, "(and)", Normalize("   "))
	assert.Equal(t, "(ns 'x')", Normalize(" (ns 'x') "))
	assert.Equal(t, "(and", Normalize("(and"))
	assert.Equal(t, "(ns 'x') junk", Normalize("(ns 'x') junk"))
	assert.Equal(t,
		`(or (matches 'it\'s me' $text) (matches 'it\'s me' $bout.title) (matches 'it\'s me' $author.alias))`,
		Normalize("it's me"),
	)

	_, err := Parse(Normalize("it's me"))
	assert.NoError(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'a\\b'`, Quote(`a\b`))
	e, err := Parse("(x " + Quote(`a\b'c`) + ")")
	require.NoError(t, err)
	assert.Equal(t, `a\b'c`, e.Args[0].Value)
}

func TestWalk(t *testing.T) {
	e, err := Parse("(and (or (pos 1) (pos 2)) (limit 3))")
	require.NoError(t, err)
	var ops []string
	e.Walk(func(n *Expr) {
		if n.Kind == Call {
			ops = append(ops, n.Op)
		}
	})
	assert.Equal(t, []string{"and", "or", "pos", "pos", "limit"}, ops)
}
