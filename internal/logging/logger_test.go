package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelDebug, FormatJSON, &buf)

	logger.WithComponent("bridge").WithField("event", "balances_updated").Warn("dropped fact")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, "dropped fact", entry.Message)
	assert.Equal(t, "bridge", entry.Fields["component"])
	assert.Equal(t, "balances_updated", entry.Fields["event"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelWarn, FormatText, &buf)

	logger.Info("hidden")
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "error: shown")
	assert.Contains(t, buf.String(), "caller=")
}

func TestLogger_ChildrenShareSink(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithOutput(LevelError, FormatText, &buf)
	child := parent.WithField("k", "v")

	parent.SetLevel(LevelInfo)
	child.Info("after level change")
	assert.True(t, strings.Contains(buf.String(), "after level change"))

	// parent fields stay untouched by children
	assert.Empty(t, parent.fields)
}

func TestFromContext(t *testing.T) {
	logger := Discard()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("loud"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("yaml"))
}
