package msgsocket

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// fieldLogger appends a fixed set of key-value pairs to every record.
type fieldLogger struct {
	Logger
	fields []any
}

// withFields returns a Logger that adds args to every call on l.
func withFields(l Logger, args ...any) Logger {
	if fl, ok := l.(fieldLogger); ok {
		return fieldLogger{Logger: fl.Logger, fields: append(append([]any{}, fl.fields...), args...)}
	}
	return fieldLogger{Logger: l, fields: args}
}

func (l fieldLogger) Debug(msg string, args ...any) { l.Logger.Debug(msg, l.with(args)...) }
func (l fieldLogger) Info(msg string, args ...any)  { l.Logger.Info(msg, l.with(args)...) }
func (l fieldLogger) Warn(msg string, args ...any)  { l.Logger.Warn(msg, l.with(args)...) }
func (l fieldLogger) Error(msg string, args ...any) { l.Logger.Error(msg, l.with(args)...) }

func (l fieldLogger) with(args []any) []any {
	return append(append(make([]any, 0, len(l.fields)+len(args)), l.fields...), args...)
}

// errText renders err as a single-line log value; nil becomes "".
func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
