// Package logging builds the zap loggers used by the live detection tools.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerConfig returns the console configuration at the given level.
// Development mode colours levels and keeps stacktraces on warnings; otherwise
// output is JSON without stacktraces.
func NewLoggerConfig(level zap.AtomicLevel, development bool) zap.Config {
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     enc,
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	if development {
		cfg.Development = true
		cfg.Encoding = "console"
		cfg.DisableStacktrace = false
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// NewLogger builds a sugared logger.
//
// Arguments:
//   - level: One of debug, info, warn or error.
//   - development: Human readable console output.
//
// Returns:
//   - *zap.SugaredLogger: The logger, named "livedetect".
//   - error: An error if the level is unknown.
func NewLogger(level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	logger, err := NewLoggerConfig(lvl, development).Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger.Sugar().Named("livedetect"), nil
}
