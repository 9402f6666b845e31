package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("expected %v for %q, got %v", expected, input, got)
		}
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatConsole} {
		logger, err := NewLogger("warn", format)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("expected info disabled for %s", format)
		}
		if !logger.Core().Enabled(zapcore.WarnLevel) {
			t.Fatalf("expected warn enabled for %s", format)
		}
	}
}
