package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("success"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestNew_WritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Level: "info", Dir: dir, SessionID: "abc123"})
	require.NoError(t, err)

	s.Info("phase started", zap.String("phase", "analyzing"))
	s.Debug("hidden at info level")
	require.NoError(t, s.Close())

	assert.Equal(t, LogPath(dir, "abc123"), s.Path)
	data, err := os.ReadFile(s.Path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "phase started", entry["msg"])
	assert.Equal(t, "analyzing", entry["phase"])
	assert.Equal(t, "abc123", entry["session"])
}

func TestNew_DebugConsole(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(Options{SessionID: "dbg", Debug: true, Console: &buf})
	require.NoError(t, err)

	s.Debug("resolving region")
	require.NoError(t, s.Close())
	assert.Contains(t, buf.String(), "resolving region")
	assert.Empty(t, s.Path)
}

func TestNew_NoOutputsIsNop(t *testing.T) {
	s, err := New(Options{SessionID: "x"})
	require.NoError(t, err)
	s.Info("dropped")
	assert.NoError(t, s.Close())
}
