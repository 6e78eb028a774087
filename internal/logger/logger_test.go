package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() {
		SetWriter(os.Stdout)
		SetLevel("INFO")
		SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel("WARN")

	Info("hidden %d", 1)
	Warn("shown %d", 2)
	Error("shown %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
	assert.Contains(t, out, "[ERROR] shown 3")
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	capture(t)
	SetLevel("debug")
	SetLevel("verbose")
	assert.True(t, IsDebug())
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	SetFormat("json")

	Info("mounted %s", "/mnt/h5")

	var line jsonLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "INFO", line.Level)
	assert.Equal(t, "mounted /mnt/h5", line.Msg)
	assert.NotEmpty(t, line.Time)
}

func TestSetOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h5fs.log")
	require.NoError(t, SetOutput(path))
	t.Cleanup(func() { _ = SetOutput("stdout") })

	Error("disk on fire")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ERROR] disk on fire")
}
