// Package concurrency implements the bounded worker pool, shutdown-flag,
// and retry-with-backoff contracts that providers and plugins use for
// fan-out sub-tasks, per the concurrency and cancellation model. Grounded
// on the teacher's internal/jobs/cpu_pool.go worker-pool shape, adapted to
// use golang.org/x/sync/errgroup for the bounded-group idiom instead of the
// teacher's hand-rolled channel/WaitGroup pairing.
package concurrency

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ShutdownFlag is a process-wide cooperative cancellation signal. A single
// instance is normally shared across a run; nodes and providers poll it
// between sub-tasks rather than relying solely on context cancellation, so
// an in-flight batch can wind down between discrete units of work.
type ShutdownFlag struct {
	ch chan struct{}
}

// NewShutdownFlag returns an unset flag.
func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{ch: make(chan struct{})}
}

// Trigger sets the flag. Safe to call more than once.
func (f *ShutdownFlag) Trigger() {
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
}

// Triggered reports whether Trigger has been called.
func (f *ShutdownFlag) Triggered() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the flag is triggered, for use in
// select statements alongside a context's Done channel.
func (f *ShutdownFlag) Done() <-chan struct{} {
	return f.ch
}

// Interrupted marks a partial fan-out result that stopped early because the
// shutdown flag fired mid-batch. The graph node treats this as a graceful
// stop rather than a failure.
type Interrupted struct {
	Completed int
	Total     int
}

// Pool runs tasks over a bounded number of concurrent workers, stopping
// early and returning Interrupted if the shutdown flag fires between tasks.
type Pool struct {
	Workers  int
	Shutdown *ShutdownFlag
}

// NewPool builds a Pool with the given worker count (default 4 when <= 0)
// and an optional shutdown flag (nil disables cooperative shutdown).
func NewPool(workers int, shutdown *ShutdownFlag) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{Workers: workers, Shutdown: shutdown}
}

// Run executes fn(ctx, i) for i in [0, n) across p.Workers goroutines. It
// returns the first error from any task (other tasks are canceled via the
// group's derived context), or, if the shutdown flag fires before all tasks
// are dispatched, an error that AsInterrupted recognizes, carrying how many
// tasks were dispatched before the flag fired.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	for i := 0; i < n; i++ {
		if p.Shutdown != nil && p.Shutdown.Triggered() {
			if err := g.Wait(); err != nil {
				return err
			}
			return &interruptedError{Interrupted{Completed: i, Total: n}}
		}
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

type interruptedError struct{ Interrupted }

func (e *interruptedError) Error() string {
	return "interrupted after completing a partial batch"
}

// AsInterrupted reports whether err is an interruption from a shutdown
// flag firing mid-batch, returning the partial-progress detail.
func AsInterrupted(err error) (Interrupted, bool) {
	ie, ok := err.(*interruptedError)
	if !ok {
		return Interrupted{}, false
	}
	return ie.Interrupted, true
}
