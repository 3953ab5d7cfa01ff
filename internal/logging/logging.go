// Package logging builds the shared zap logger. All services log structured
// JSON to stderr; run_id/task_id context is attached at call sites.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the process-wide JSON logger. Level defaults to info and can
// be lowered with LOG_LEVEL=debug.
func New() *zap.Logger {
	level := zapcore.InfoLevel
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core)
}

// Named returns a child logger tagged with the component name.
func Named(base *zap.Logger, component string) *zap.Logger {
	return base.With(zap.String("component", component))
}
