package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		" Debug ":  slog.LevelDebug,
		"info":     slog.LevelInfo,
		"warn":     slog.LevelWarn,
		"WARNING":  slog.LevelWarn,
		"error":    slog.LevelError,
		"":         slog.LevelInfo,
		"verbose":  slog.LevelInfo,
		"critical": slog.LevelInfo,
	}

	for input, want := range cases {
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, want, logger.ParseLevel(input))
		})
	}
}

func TestNewWithWriter_Formats(t *testing.T) {
	t.Parallel()

	var text bytes.Buffer
	logger.NewWithWriter(&text, "info", "text").
		Info("token minted", "scope_key", "https://api.ebay.com/oauth/api_scope")
	assert.Contains(t, text.String(), "level=INFO")
	assert.Contains(t, text.String(), `msg="token minted"`)
	assert.Contains(t, text.String(), "scope_key=https://api.ebay.com/oauth/api_scope")

	var js bytes.Buffer
	logger.NewWithWriter(&js, "info", "json").Warn("circuit opened", "endpoint", "buy/browse/v1/item_summary")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "circuit opened", entry["msg"])
	assert.Equal(t, "buy/browse/v1/item_summary", entry["endpoint"])
}

func TestNewWithWriter_RedactsSecrets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger.NewWithWriter(&buf, "debug", "json").Debug("token exchange",
		"access_token", "v^1.1#i^1#secret",
		"refresh_token", "v^1.1#r^1#secret",
		"Authorization", "Bearer secret",
		"code", "v^1.1#c^1#secret",
		"expires_in", 7200,
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	for _, key := range []string{"access_token", "refresh_token", "Authorization", "code"} {
		assert.Equal(t, logger.Redacted, entry[key], key)
	}
	assert.InDelta(t, 7200, entry["expires_in"], 0)
	assert.NotContains(t, buf.String(), "secret")
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		emit  slog.Level
		want  bool
	}{
		{level: "debug", emit: slog.LevelDebug, want: true},
		{level: "info", emit: slog.LevelDebug, want: false},
		{level: "warn", emit: slog.LevelInfo, want: false},
		{level: "warn", emit: slog.LevelWarn, want: true},
		{level: "error", emit: slog.LevelWarn, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.emit.String(), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger.NewWithWriter(&buf, tt.level, "text").Log(t.Context(), tt.emit, "probe")
			assert.Equal(t, tt.want, buf.Len() > 0)
		})
	}
}

func TestNewAndDiscard(t *testing.T) {
	t.Parallel()

	require.NotNil(t, logger.New("info", "text"))

	l := logger.Discard()
	require.NotNil(t, l)
	assert.False(t, l.Enabled(t.Context(), slog.LevelError))
}
