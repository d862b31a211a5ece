// Package observability carries the engine's logging and metrics seams. Both
// default to no-ops so embedding code opts in rather than being forced to
// configure output it may not want.
package observability

// Logger is the minimal structured-logging surface the engine writes to.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is one key/value attribute attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a logging field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger installs the process-wide logger. Passing nil restores the
// silent default.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the installed logger.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}
