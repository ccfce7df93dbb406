// Package logger provides the logging front ends for engram: a zap logger
// for the long-running pipeline processes and a slog front for CLI commands.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates the zap logger used by the serve and sweep processes.
// Debug mode switches from JSON records to a colorized console encoder and
// lowers the level.
func NewLogger(debug bool) *zap.Logger {
	return NewLoggerWithWriters(debug, os.Stdout)
}

// NewLoggerWithWriters is NewLogger with explicit output writers, used by
// tests to capture records.
func NewLoggerWithWriters(debug bool, writers ...io.Writer) *zap.Logger {
	encoder, level := pipelineEncoder(debug)
	core := zapcore.NewCore(encoder, combineWriters(writers), level)
	return zap.New(core, zap.AddCaller())
}

func pipelineEncoder(debug bool) (zapcore.Encoder, zapcore.Level) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if debug {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg), zap.DebugLevel
	}

	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(cfg), zap.InfoLevel
}

func combineWriters(writers []io.Writer) zapcore.WriteSyncer {
	if len(writers) == 0 {
		return zapcore.AddSync(os.Stdout)
	}

	syncers := make([]zapcore.WriteSyncer, len(writers))
	for i, w := range writers {
		syncers[i] = zapcore.AddSync(w)
	}
	return zapcore.NewMultiWriteSyncer(syncers...)
}
