// Package middleware wraps handlers and jobs with panic recovery and timing.
package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

const slowThreshold = 100 * time.Millisecond

type Handler func(ctx context.Context) error

type Middleware func(Handler) Handler

// Recover turns a panic into an UNKNOWN error so the caller can fail the unit
// of work and carry on.
func Recover(next Handler) Handler {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered", "error", r, "stack", string(debug.Stack()))
				err = errs.Wrap(errs.CodeUnknown, "internal error", fmt.Errorf("panic: %v", r))
			}
		}()
		return next(ctx)
	}
}

func Logger(name string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context) error {
			start := time.Now()
			err := next(ctx)

			duration := time.Since(start)
			switch {
			case err != nil:
				logger.Debug("Handler failed", "name", name, "duration", duration, "error", err)
			case duration > slowThreshold:
				logger.Info("Handler completed (slow)", "name", name, "duration", duration)
			default:
				logger.Debug("Handler completed", "name", name, "duration", duration)
			}
			return err
		}
	}
}

// Chain applies middlewares so the first one listed is the outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
