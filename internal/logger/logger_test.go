package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_PlainJSON(t *testing.T) {
	var buf bytes.Buffer
	log, cleanup, err := newWithWriter(Config{Level: "warn"}, &buf, false)
	require.NoError(t, err)
	defer cleanup()

	log.Info("hidden")
	log.Warn("credential exhausted", "key", "key #2")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"credential exhausted"`)
	assert.Contains(t, out, `"key":"key #2"`)
}

func TestNew_FileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tabletran.log")

	log, cleanup, err := newWithWriter(Config{Level: "info", File: path, MaxSize: 1}, &buf, false)
	require.NoError(t, err)
	log.With("stage", "initial").Info("stage finished", "succeeded", 3)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage":"initial"`)
	assert.Contains(t, string(data), `"succeeded":3`)
	assert.Contains(t, buf.String(), "stage finished")
}

func TestShouldUseColors_Env(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, ShouldUseColors())

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, ShouldUseColors())
}
