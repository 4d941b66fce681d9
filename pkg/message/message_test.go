package message

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Message{ID: 1}.Validate())
	assert.ErrorIs(t, Message{}.Validate(), ErrInvalidID)
	assert.ErrorIs(t, Message{ID: math.MaxUint64}.Validate(), ErrInvalidID)
}

func TestDecoder(t *testing.T) {
	input := `{"id": 7, "text": "hello", "author": "urn:test:a", "date": "2011-05-01T10:00:00Z",
  "bout": {"id": 3, "title": "t", "participants": ["urn:test:a", "urn:test:b"]}}`
	input = strings.ReplaceAll(input, "\n", "") + "\n\n" + `{"id": 8, "text": "second"}` + "\n"

	d := NewDecoder(strings.NewReader(input))

	m, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.ID)
	assert.Equal(t, uint64(3), m.Bout.ID)
	assert.Equal(t, []string{"urn:test:a", "urn:test:b"}, m.Bout.Participants)
	assert.Equal(t, 2011, m.Date.Year())

	m, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, "second", m.Text)

	_, err = d.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestDecoder_Errors(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("{not json}\n")).Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = NewDecoder(strings.NewReader(`{"id": 0}` + "\n")).Next()
	assert.ErrorIs(t, err, ErrInvalidID)
}
