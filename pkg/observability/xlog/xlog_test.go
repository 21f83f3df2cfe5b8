package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringer string

func (s stringer) String() string { return string(s) }

func buildJSON(t *testing.T, buf *bytes.Buffer, level Level) LoggerWithLevel {
	t.Helper()
	logger, cleanup, err := New().SetOutput(buf).SetFormat("json").SetLevel(level).Build()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })
	return logger
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := buildJSON(t, &buf, LevelInfo)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "page accepted", Count(100))
	logger.Warn(ctx, "retrying", Attempt(2), Delay(time.Second))
	logger.Error(ctx, "run failed", Err(errors.New("503")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "page accepted", lines[0]["msg"])
	assert.EqualValues(t, 100, lines[0][KeyCount])
	assert.EqualValues(t, 2, lines[1][KeyAttempt])
	assert.Equal(t, "1s", lines[1][KeyDelay])
	assert.Equal(t, "503", lines[2][KeyError])
}

func TestLogger_DynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := buildJSON(t, &buf, LevelWarn)
	child := logger.With(Component("xfetch"))

	child.Info(context.Background(), "suppressed")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	assert.True(t, logger.Enabled(context.Background(), LevelDebug))

	child.Debug(context.Background(), "visible")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "xfetch", lines[0][KeyComponent])
}

func TestLogger_EnrichFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := buildJSON(t, &buf, LevelInfo)

	ctx := WithStream(context.Background(), "orders", "run-1")
	logger.Info(ctx, "start")
	logger.Info(context.Background(), "plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "orders", lines[0][KeyStream])
	assert.Equal(t, "run-1", lines[0][KeyRunID])
	assert.NotContains(t, lines[1], KeyStream)

	stream, runID, ok := StreamFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "orders", stream)
	assert.Equal(t, "run-1", runID)
}

func TestLogger_EnrichDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("json").SetEnrich(false).Build()
	require.NoError(t, err)
	logger.Info(WithStream(context.Background(), "orders", "run-1"), "start")
	assert.NotContains(t, buf.String(), KeyRunID)
}

func TestLogger_NilContext(t *testing.T) {
	var buf bytes.Buffer
	logger := buildJSON(t, &buf, LevelInfo)
	assert.NotPanics(t, func() {
		//nolint:staticcheck // 验证 nil context 不会 panic
		logger.Info(nil, "nil ctx")
	})
	assert.Contains(t, buf.String(), "nil ctx")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestLogger_OnError(t *testing.T) {
	var got []error
	logger, _, err := New().SetOutput(failingWriter{}).SetOnError(func(err error) {
		got = append(got, err)
	}).Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "lost")
	assert.Len(t, got, 1)
	assert.EqualValues(t, 1, ErrorCount(logger))
	assert.EqualValues(t, 1, ErrorCount(logger.With(slog.String("k", "v"))))
}

func TestBuilder_Errors(t *testing.T) {
	_, _, err := New().SetFormat("xml").Build()
	assert.ErrorContains(t, err, "unknown format")

	_, _, err = New().SetLevelString("verbose").SetFormat("json").Build()
	assert.ErrorContains(t, err, "unknown level")

	_, _, err = New().SetRotation("  ", RotationOptions{}).Build()
	assert.ErrorIs(t, err, ErrEmptyFilename)
}

func TestBuilder_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ingest.log")
	logger, cleanup, err := New().SetRotation(path, RotationOptions{MaxSizeMB: 1, MaxBackups: 2}).Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "rotated", Endpoint("api.example.com/odata/orders"))
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api.example.com/odata/orders")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "": LevelInfo,
		" warning ": LevelWarn, "Warn": LevelWarn, "error": LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("debug")))
	assert.Equal(t, LevelDebug, l)
	text, err := LevelWarn.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "warn", string(text))
	assert.Error(t, l.UnmarshalText([]byte("loud")))
}

func TestAttrs(t *testing.T) {
	assert.Equal(t, slog.Attr{}, Err(nil))
	assert.Equal(t, "server", Category(stringer("server")).Value.String())
	assert.Equal(t, int64(2000), Skip(2000).Value.Int64())
	assert.Equal(t, 503, int(StatusCode(503).Value.Int64()))
	assert.Equal(t, "open", State("open").Value.String())
	assert.Equal(t, KeyCursor, Cursor(42).Key)
	assert.Equal(t, "1.5s", Duration(1500*time.Millisecond).Value.String())
}

func TestNewEnrichHandler_Nil(t *testing.T) {
	_, err := NewEnrichHandler(nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestGlobal(t *testing.T) {
	t.Cleanup(ResetDefault)

	ResetDefault()
	d := Default()
	assert.Same(t, d, Default())

	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetLevel(LevelDebug).Build()
	require.NoError(t, err)
	SetDefault(logger)
	SetDefault(nil)

	ctx := context.Background()
	Debug(ctx, "g-debug")
	Info(ctx, "g-info")
	Warn(ctx, "g-warn")
	Error(ctx, "g-error")
	for _, msg := range []string{"g-debug", "g-info", "g-warn", "g-error"} {
		assert.Contains(t, buf.String(), msg)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(context.Background(), LevelError))
	assert.NotPanics(t, func() { l.Error(context.Background(), "dropped") })
}
