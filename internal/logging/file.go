package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewFileLogger builds the JSON detail logger that writes to path.
func NewFileLogger(path string, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// Install replaces zap's global logger with a file logger.
// The returned func flushes and restores the previous global.
func Install(path string, verbose bool) (func(), error) {
	logger, err := NewFileLogger(path, verbose)
	if err != nil {
		return func() {}, err
	}
	restore := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		restore()
	}, nil
}

// L returns the global detail logger annotated with the worker and run in ctx.
func L(ctx context.Context) *zap.Logger {
	logger := zap.L()
	if id := GetRunID(ctx); id != "" {
		logger = logger.With(zap.String("run", id))
	}
	if label, ok := GetWorker(ctx); ok {
		logger = logger.With(zap.String("token", label.TokenPreview), zap.Int("worker", label.Index))
	}
	return logger
}
