package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It discards everything until Init runs so
// packages can log unconditionally and tests stay quiet.
var Log = zap.NewNop()

// Init replaces Log with a production logger at the given level
// ("debug", "info", "warn", "error"); unknown levels fall back to info.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	_ = Log.Sync()
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
