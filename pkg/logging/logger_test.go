package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "json", &buf)

	log.LogSee(context.Background(), "xml", 42, errors.New("broken"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "xml", rec["motor"])
	assert.Equal(t, float64(42), rec["msg"])
	assert.Equal(t, "broken", rec["error"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "text", &buf)

	log.LogQuery(context.Background(), "(and)", 3, time.Millisecond, nil)
	assert.Empty(t, buf.String(), "debug records must be dropped at warn level")

	log.LogFlush(context.Background(), "0001", 0, 0, errors.New("disk full"))
	assert.Contains(t, buf.String(), "flush failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestBadgerLogger(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "text", &buf)

	log.Badger().Warningf("value log %d discarded\n", 3)
	assert.Contains(t, buf.String(), "value log 3 discarded")
	assert.Contains(t, buf.String(), "component=badger")
}

func TestOrNoop(t *testing.T) {
	assert.NotNil(t, OrNoop(nil))
	l := Noop()
	assert.Same(t, l, OrNoop(l))
}
