// Package logger provides leveled logging backed by zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional worker ID, and message.
// The worker ID is carried as the zap logger name, so it appears as
// "[stressor-1]" in console output and as the "worker" key in JSON output.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Application started")
//	logger.Info("stressor-1", "Processing request")
//	logger.Error("stressor-1", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("node-1", "Debug message")
//
//	j := logger.NewJSON(os.Stdout, logger.LevelInfo)
//	j.Info("", "machine readable")
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// SetLevel changes the level atomically and is safe to call while other
// goroutines are logging.
package logger
