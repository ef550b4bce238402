package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup("warn", "text", &buf)

	Info("should be filtered")
	Warn("should appear", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
	assert.Contains(t, out, "key=value")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "json", &buf)

	Info("hello", "n", 1)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestRunContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "text", &buf)

	ctx := WithRun(context.Background(), "run-42", "naivebayes")
	ctx = WithOperation(ctx, "index")
	InfoContext(ctx, "training started")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-42")
	assert.Contains(t, out, "method=naivebayes")
	assert.Contains(t, out, "operation=index")
}

func TestFromContextWithoutValues(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "text", &buf)

	FromContext(context.Background()).Info("bare")
	out := buf.String()
	assert.Contains(t, out, "bare")
	assert.NotContains(t, out, "run_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
