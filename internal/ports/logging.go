package ports

import "context"

// Logger is the structured logging port shared by every layer. Fields are
// alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)

	// With derives a logger that always writes the supplied fields.
	With(fields ...any) Logger
}

// ErrorReporter forwards failures to an external exception-capture sink.
type ErrorReporter interface {
	Capture(ctx context.Context, err error, tags map[string]string)
}
