package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })

	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "turn handled", zap.String("topic", "comparendos"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, `"msg":"turn handled"`)
	assert.Contains(t, out, `"topic":"comparendos"`)
	assert.Contains(t, out, `"service":"transitd"`)
}

func TestNewLogger_Stderr(t *testing.T) {
	var out, errOut bytes.Buffer
	origOut, origErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = origOut, origErr })

	cfg := NewDefaultConfig()
	cfg.Output.Stderr = true
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "mcp server ready")
	require.NoError(t, logger.Sync())

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "mcp server ready")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithTurnID(ctx, "turn-7")

	tests := []struct {
		name  string
		log   func()
		level zapcore.Level
		msg   string
	}{
		{"trace", func() { tl.Trace(ctx, "rule scored") }, TraceLevel, "rule scored"},
		{"debug", func() { tl.Debug(ctx, "stage skipped") }, zapcore.DebugLevel, "stage skipped"},
		{"info", func() { tl.Info(ctx, "turn handled") }, zapcore.InfoLevel, "turn handled"},
		{"warn", func() { tl.Warn(ctx, "mirror write failed") }, zapcore.WarnLevel, "mirror write failed"},
		{"error", func() { tl.Error(ctx, "reload failed") }, zapcore.ErrorLevel, "reload failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl.Reset()
			tt.log()
			tl.AssertLogged(t, tt.level, tt.msg)
			tl.AssertField(t, tt.msg, "session.id", "sess-1")
			tl.AssertField(t, tt.msg, "turn.id", "turn-7")
			tl.AssertCorrelated(t, tt.msg, "sess-1")
		})
	}
}

func TestTestLogger_ForSession(t *testing.T) {
	tl := NewTestLogger()
	a := WithTurnID(WithSessionID(context.Background(), "sess-a"), "turn-1")
	b := WithTurnID(WithSessionID(context.Background(), "sess-b"), "turn-1")

	tl.Info(a, "turn handled")
	tl.Info(b, "turn handled")
	tl.Warn(a, "mirror write failed")
	tl.Info(context.Background(), "catalogue reloaded")

	assert.Len(t, tl.ForSession("sess-a"), 2)
	assert.Len(t, tl.ForSession("sess-b"), 1)
	assert.Empty(t, tl.ForSession("sess-c"))
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "mirror write failed")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("classifier").With(zap.String("component", "rules"))
	child.Info(context.Background(), "loaded")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "classifier", entries[0].LoggerName)
	assert.Equal(t, "rules", entries[0].ContextMap()["component"])
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestContext_InvalidIDsPanic(t *testing.T) {
	assert.Panics(t, func() { WithSessionID(context.Background(), "") })
	assert.Panics(t, func() { WithSessionID(context.Background(), "bad id!") })
	assert.NoError(t, ValidateID("abc_123-x", "sessionID"))
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "discarded")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}
