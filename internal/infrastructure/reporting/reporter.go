// Package reporting forwards failures to the configured exception sink.
package reporting

import (
	"context"

	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

// LogReporter records captured errors through the structured logger. It
// stands in for an external error-tracking service; swap the reporter
// wiring to integrate one.
type LogReporter struct {
	log ports.Logger
}

// NewLogReporter creates a reporter writing to log.
func NewLogReporter(log ports.Logger) *LogReporter {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &LogReporter{log: log.With("component", "error_reporter")}
}

// Capture records err with its tags.
func (r *LogReporter) Capture(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	fields := make([]any, 0, 2+len(tags)*2)
	fields = append(fields, "error", err)
	for key, value := range tags {
		fields = append(fields, key, value)
	}
	r.log.Error(ctx, "captured failure", fields...)
}

// NoopReporter discards everything.
type NoopReporter struct{}

// Capture implements ports.ErrorReporter.
func (NoopReporter) Capture(context.Context, error, map[string]string) {}

var (
	_ ports.ErrorReporter = (*LogReporter)(nil)
	_ ports.ErrorReporter = NoopReporter{}
)
