package logger

import (
	"context"

	"github.com/formloop/formloop/internal/ports"
)

// NoOp discards every log entry. Used as the default collaborator so nil
// checks never leak into call sites.
type NoOp struct{}

// NewNoOp returns a logger that discards everything.
func NewNoOp() *NoOp { return &NoOp{} }

func (*NoOp) Debug(context.Context, string, ...any) {}
func (*NoOp) Info(context.Context, string, ...any)  {}
func (*NoOp) Warn(context.Context, string, ...any)  {}
func (*NoOp) Error(context.Context, string, ...any) {}

// With returns the same no-op logger.
func (n *NoOp) With(...any) ports.Logger { return n }

var _ ports.Logger = (*NoOp)(nil)
