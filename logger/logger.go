package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/podbox/config"
)

// NewFromConfig builds the application logger. A sandbox running podman in
// debug mode also logs at debug level, whatever logging.level says.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if cfg.Podman.Debug {
		level = "debug"
	}

	logger, err := New(cfg.Logging.Mode, level)
	if err != nil {
		return nil, err
	}

	return logger.Named("podbox"), nil
}

// New creates a new logger instance based on configuration
func New(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	// stdout belongs to the MCP stdio transport.
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}
