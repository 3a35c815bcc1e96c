package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "json")

	WithComponent("indexer").Info("dropped")
	WithComponent("indexer").Warn("kept", "files", 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "indexer", entry["component"])
	assert.Equal(t, float64(2), entry["files"])
}

func TestFromContext_Session(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "text")

	ctx := WithSession(context.Background(), "abc")
	FromContext(ctx).Debug("applied")
	assert.Contains(t, buf.String(), "session=abc")

	buf.Reset()
	FromContext(context.Background()).Debug("applied")
	assert.NotContains(t, buf.String(), "session=")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
