package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   Level
		want slog.Level
	}{
		{DebugLevel, slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{InfoLevel, slog.LevelInfo},
		{WarnLevel, slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{ErrorLevel, slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetupWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOutput(Config{Level: WarnLevel, Format: JSONFormat}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "scanned", 3)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, float64(3), entry["scanned"])
}

func TestSetupWithOutput_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOutput(DefaultConfig(), &buf)

	logger.Debug("hidden")
	logger.Info("Consolidation pass completed", "reinforced", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="Consolidation pass completed"`)
	assert.Contains(t, out, "reinforced=2")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOutput(Config{Level: DebugLevel, Format: JSONFormat}, &buf)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	ctx = WithComponent(ctx, "consolidator")
	WarnContext(WithRecord(ctx, "rec-1"), "Write-through failed")
	DebugContext(ctx, "Swept working set")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "consolidator", first["component"])
	assert.Equal(t, "rec-1", first["record_id"])
	assert.Equal(t, "consolidator", second["component"])
	assert.NotContains(t, second, "record_id")
}
