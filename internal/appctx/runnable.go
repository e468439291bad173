// Package appctx bridges this module's context-based Run(ctx) error
// components (the aggregator and the reconciliation loop) into the
// zero-argument, *shutter.Shutter-embedding service shape that
// streamingfast/cli's Application.SuperviseAndStart expects, matching how
// the teacher's own sidecar services are supervised.
package appctx

import (
	"context"
	"errors"

	"github.com/streamingfast/shutter"
)

// Runnable adapts a single context-based component into a supervised
// service. Name appears only in the error it wraps, for log readability
// when several Runnables are supervised by the same Application.
type Runnable struct {
	*shutter.Shutter

	name     string
	run      func(ctx context.Context) error
	graceful []error
}

// NewRunnable wraps fn for supervision. graceful lists errors fn may
// return on a signal-triggered exit (e.g. reconcile.ErrSignalShutdown)
// that should be treated as a clean stop rather than a failure.
func NewRunnable(name string, fn func(ctx context.Context) error, graceful ...error) *Runnable {
	return &Runnable{
		Shutter:  shutter.New(),
		name:     name,
		run:      fn,
		graceful: graceful,
	}
}

// Run satisfies the shutter-supervised service contract expected by
// Application.SuperviseAndStart: it derives a context canceled when the
// shutter is told to terminate (by the Application on SIGINT/SIGTERM, or
// by a sibling service's failure), runs the wrapped component to
// completion, and reports its outcome to Shutdown. A clean,
// signal-triggered exit (context.Canceled, or any error the caller listed
// in graceful) is reported as success; anything else is reported as a
// supervised-service failure so Application.SuperviseAndStart tears down
// the rest of the process.
func (r *Runnable) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	r.OnTerminating(func(_ error) {
		cancel()
	})

	err := r.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		for _, g := range r.graceful {
			if errors.Is(err, g) {
				err = nil
				break
			}
		}
	}
	if err != nil {
		r.Shutdown(namedError{r.name, err})
		return
	}
	r.Shutdown(nil)
}

type namedError struct {
	name string
	err  error
}

func (e namedError) Error() string { return e.name + ": " + e.err.Error() }
func (e namedError) Unwrap() error { return e.err }
