package app

import (
	"fmt"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// NewLogger builds the process logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = lvl

	return cfg.Build()
}

// supervisorEvents forwards suture events to the logger
func supervisorEvents(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := []zap.Field{zap.Any("event", e.Map())}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			logger.Warn(e.String(), fields...)
		default:
			logger.Info(e.String(), fields...)
		}
	}
}
