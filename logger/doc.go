// Package logger provides structured logging capabilities.
//
// Loggers are plain *zap.Logger values. All output goes to stderr so the
// stdio MCP transport keeps stdout to itself.
//
// Usage:
//
//	logger, err := logger.NewFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("sandbox ready", zap.String("anchor", anchor))
package logger
