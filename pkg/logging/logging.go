// Package logging builds the process-wide structured logger.
package logging

import (
	"fmt"

	"github.com/homer-bot/homerbot/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger writing to stdout. Every record carries the
// service, env and version fields.
func New(cfg config.TelemetryConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.LogLevel != "" {
		l, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = l
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = "json"
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.InitialFields = map[string]interface{}{
		"service": cfg.Service,
		"env":     cfg.Env,
		"version": cfg.Version,
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
