package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"
)

// WithSignalCancel is a context that will cancel itself when a signal is sent
// to the process. The cancel function returned is responsible for freeing the
// signal handlers used and must be called. Callers that want a second ^C to
// terminate the process should call cancel as soon as the derived context is
// Done().
func WithSignalCancel(ctx context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	cancel := func() {
		ctxcancel()
		once.Do(func() {
			signal.Stop(sigchan)
		})
	}

	go func() {
		select {
		case <-sigctx.Done():
		case <-sigchan:
			ctxcancel()
		}
	}()

	return sigctx, cancel
}

// Detached returns a context carrying ctx's values that is never cancelled.
// Cleanup calls that must not be interrupted by the run's own cancellation use
// it.
func Detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// WithGrace returns a context carrying parent's values that is cancelled grace
// after parent is done, or when the returned cancel is called.
func WithGrace(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.AfterFunc(grace, cancel)
		context.AfterFunc(ctx, func() { timer.Stop() })
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
