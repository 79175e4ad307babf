package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	t.Cleanup(restore)
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("scorer")
	assert.Equal(t, "scorer", logger.GetAgentID())
	assert.Equal(t, "rewriter", logger.WithAgentID("rewriter").GetAgentID())
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("orchestrator").Info("Session %s started", "abc")

	output := buf.String()
	assert.Contains(t, output, "[orchestrator]")
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "Session abc started")
}

func TestLogLevels(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(true)
	t.Cleanup(func() { SetDebugConfig(false) })

	logger := NewLogger("test-agent")
	logger.Debug("debug line")
	logger.Warn("warn line")
	logger.Error("error line")

	output := buf.String()
	assert.Contains(t, output, "DEBUG")
	assert.Contains(t, output, "WARN")
	assert.Contains(t, output, "ERROR")
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(false)

	NewLogger("quiet").Debug("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")
}

func TestDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetDebugConfig(true)
	SetDebugDomains([]string{"patterns"})
	t.Cleanup(func() {
		SetDebugConfig(false)
		SetDebugDomains(nil)
	})

	ctx := WithAgentContext(context.Background(), "store")
	Debug(ctx, "patterns", "lookup %d", 1)
	Debug(ctx, "scorer", "hidden %d", 2)

	output := buf.String()
	assert.Contains(t, output, "lookup 1")
	assert.Contains(t, output, "[store]")
	assert.NotContains(t, output, "hidden 2")
	assert.True(t, IsDebugEnabledForDomain("patterns"))
	assert.False(t, IsDebugEnabledForDomain("scorer"))
}

func TestWrap(t *testing.T) {
	captureOutput(t)

	assert.NoError(t, Wrap(nil, "noop"))

	base := errors.New("disk full")
	err := Wrap(base, "flush store")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "flush store: disk full", err.Error())
}

func TestErrorf(t *testing.T) {
	buf := captureOutput(t)

	err := Errorf("bad value %d", 7)
	assert.EqualError(t, err, "bad value 7")
	assert.Contains(t, buf.String(), "bad value 7")
}

func TestInitializeLogFile(t *testing.T) {
	dir := t.TempDir()
	buf := captureOutput(t)

	require.NoError(t, InitializeLogFile(dir, 1, true))
	NewLogger("file-test").Info("written to file")
	require.NoError(t, CloseLogFile())

	data, err := os.ReadFile(filepath.Join(dir, "promptsmith.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
	assert.Contains(t, string(data), `"agent_id":"file-test"`)
	assert.Contains(t, buf.String(), "written to file")
}
