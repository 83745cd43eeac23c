package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})

	log.Debug("hidden")
	log.Info("indexed", "chunks", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "indexed", entry["msg"])
	assert.EqualValues(t, 3, entry["chunks"])
	assert.Same(t, log, slog.Default())
}

func TestNew_TextFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelDebug, Format: "text", Output: &buf})
	log.Debug("retrieval done", "results", 2)

	assert.Contains(t, buf.String(), "msg=\"retrieval done\"")
	assert.Contains(t, buf.String(), "results=2")
}
