// Package logging builds the application's zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName is the log file created in the log directory.
const FileName = "lumitracker.log"

// Options selects where and how verbosely to log.
type Options struct {
	// LogDir receives FileName. Empty logs to stderr only.
	LogDir string
	// Debug switches to the development config (console encoding, debug level).
	Debug bool
	// Quiet drops the stderr copy, leaving only the file.
	Quiet bool
}

// Build constructs the logger described by opts.
func Build(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var outputs []string
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		outputs = append(outputs, filepath.Join(opts.LogDir, FileName))
	}
	if !opts.Quiet || len(outputs) == 0 {
		outputs = append(outputs, "stderr")
	}
	config.OutputPaths = outputs
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// New is Build with a stderr fallback; it never fails.
func New(opts Options) *zap.Logger {
	logger, err := Build(opts)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("file logging unavailable, using stderr", zap.Error(err))
	}
	return logger
}
