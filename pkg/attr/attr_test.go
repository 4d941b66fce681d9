package attr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		want   int
		branch Branch
	}{
		{"numbers", "9", "10", -1, ByNumber},
		{"numbers equal with padding", "007", "7", 0, ByNumber},
		{"negative numbers", "-3", "2", -1, ByNumber},
		{"dates", "2011-03-05", "2010-12-31", 1, ByDate},
		{"timestamps", "2011-03-05T10:00:00Z", "2011-03-05T09:00:00Z", 1, ByDate},
		{"mixed date layouts", "2011-03-05", "2011-03-05T00:00:00Z", 0, ByDate},
		{"text", "apple", "banana", -1, ByText},
		{"number vs text", "10", "abc", -1, ByText},
		{"number vs date falls to text", "2011", "2011-01-01", -1, ByText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, branch := Compare(tt.a, tt.b)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.branch, branch)
		})
	}
}

func TestCompareAs_Reversive(t *testing.T) {
	assert.Equal(t, -1, CompareAs(Number, "1", "2"))
	assert.Equal(t, 1, CompareAs(Reversive, "1", "2"))
	assert.Equal(t, 0, CompareAs(Reversive, "x", "x"))
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("2012-07-01T12:30:00Z")
	require.True(t, ok)
	assert.Equal(t, time.Date(2012, 7, 1, 12, 30, 0, 0, time.UTC), d)

	_, ok = ParseDate("hello")
	assert.False(t, ok)
	_, ok = ParseDate("12345678901")
	assert.False(t, ok)
}

func TestKind_YAML(t *testing.T) {
	a := NewMulti("texts-var-text", Text)
	out, err := yaml.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(out), "kind: text")

	var back Attribute
	require.NoError(t, yaml.Unmarshal([]byte("name: var-date\nkind: date\n"), &back))
	assert.Equal(t, New("var-date", Date), back)

	err = yaml.Unmarshal([]byte("name: x\nkind: colour\n"), &back)
	assert.Error(t, err)
}

func TestAttribute_String(t *testing.T) {
	assert.Equal(t, "var-number:number", New("var-number", Number).String())
	assert.Equal(t, "w:text*", NewMulti("w", Text).String())
}
