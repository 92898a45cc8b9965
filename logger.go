package binflow

import "github.com/rs/zerolog"

// Logger defines the interface for logging within the engine.
// Implementations can route logs to various destinations. The Logger is
// optional - if not provided, no logging occurs.
type Logger interface {
	// Debug logs a debug-level message.
	Debug(format string, args ...interface{})

	// Info logs an info-level message.
	Info(format string, args ...interface{})

	// Warn logs a warning-level message.
	Warn(format string, args ...interface{})

	// Error logs an error-level message.
	Error(format string, args ...interface{})
}

// NoOpLogger is a logger that discards all log messages. It is the default
// logger when none is specified.
type NoOpLogger struct{}

// Debug implements the Logger interface.
func (n *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info implements the Logger interface.
func (n *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn implements the Logger interface.
func (n *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error implements the Logger interface.
func (n *NoOpLogger) Error(format string, args ...interface{}) {}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger returns a Logger backed by the given zerolog.Logger.
//
// Example:
//
//	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
//	eng.WithLogger(binflow.NewZerologLogger(zl))
func NewZerologLogger(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

// Debug implements the Logger interface.
func (z *ZerologLogger) Debug(format string, args ...interface{}) {
	z.log.Debug().Msgf(format, args...)
}

// Info implements the Logger interface.
func (z *ZerologLogger) Info(format string, args ...interface{}) {
	z.log.Info().Msgf(format, args...)
}

// Warn implements the Logger interface.
func (z *ZerologLogger) Warn(format string, args ...interface{}) {
	z.log.Warn().Msgf(format, args...)
}

// Error implements the Logger interface.
func (z *ZerologLogger) Error(format string, args ...interface{}) {
	z.log.Error().Msgf(format, args...)
}
