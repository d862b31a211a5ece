package observability

import "go.uber.org/zap"

// ZapLogger adapts a zap.Logger to the engine Logger interface.
type ZapLogger struct {
	base *zap.Logger
}

// NewZapLogger wraps the provided zap logger. A nil logger falls back to
// zap's production configuration.
func NewZapLogger(base *zap.Logger) *ZapLogger {
	if base == nil {
		base, _ = zap.NewProduction()
	}
	return &ZapLogger{base: base}
}

// Debug logs at debug level.
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.base.Debug(msg, toZapFields(fields)...)
}

// Info logs at info level.
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.base.Info(msg, toZapFields(fields)...)
}

// Error logs at error level.
func (l *ZapLogger) Error(msg string, fields ...Field) {
	l.base.Error(msg, toZapFields(fields)...)
}

func toZapFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
