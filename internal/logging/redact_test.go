package logging

import (
	"bytes"
	"testing"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newRedactingLogger(t *testing.T, buf *bytes.Buffer) *zap.Logger {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func TestRedactingEncoder_MasksCitizenIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		leaked  string
		contain string
	}{
		{"plate", "me pararon con la placa ABC123 ayer", "ABC123", "la placa [REDACTED] ayer"},
		{"motorcycle plate", "moto xyz12d inmovilizada", "xyz12d", "moto [REDACTED] inmovilizada"},
		{"document number", "mi cedula es 1032456789", "1032456789", "es [REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newRedactingLogger(t, &buf)
			logger.Info("classified", zap.String("utterance", tt.text))

			out := buf.String()
			assert.NotContains(t, out, tt.leaked)
			assert.Contains(t, out, tt.contain)
		})
	}
}

func TestRedactingEncoder_RedactsKeysOnCallAndWith(t *testing.T) {
	var buf bytes.Buffer
	logger := newRedactingLogger(t, &buf).With(zap.String("dsn", "postgres://u:p@h/db"))
	logger.Info("mirror opened", zap.String("api_key", "sk-123"), zap.Int("plate", 42))

	out := buf.String()
	assert.NotContains(t, out, "postgres://")
	assert.NotContains(t, out, "sk-123")
	assert.Contains(t, out, `"dsn":"[REDACTED]"`)
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, `"plate":"[REDACTED]"`)
}

func TestRedactingEncoder_MasksMessage(t *testing.T) {
	var buf bytes.Buffer
	newRedactingLogger(t, &buf).Warn("unknown plate ABC123")
	assert.NotContains(t, buf.String(), "ABC123")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)).
		Info("raw", zap.String("utterance", "placa ABC123"))
	assert.Contains(t, buf.String(), "ABC123")
}

func TestNewRedactingEncoder_RejectsBadPatterns(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("dsn", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)
}
