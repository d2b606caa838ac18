package fn

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrFunc is a closure run once per element of a slice, with a context that
// is cancelled as soon as a sibling fails.
type ErrFunc[V any] func(context.Context, V) error

// ParSlice runs f over every element of s in parallel, bounded by the number
// of CPUs. It returns the first error, if any.
func ParSlice[V any](ctx context.Context, s []V, f ErrFunc[V]) error {
	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.SetLimit(runtime.NumCPU())

	for _, v := range s {
		v := v
		errGroup.Go(func() error {
			return f(ctx, v)
		})
	}

	return errGroup.Wait()
}

// RecvOrTimeout waits for a value on c for at most timeout.
func RecvOrTimeout[T any](c <-chan T, timeout time.Duration) (*T, error) {
	select {
	case m := <-c:
		return &m, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout hit")
	}
}

// ErrQuitting is returned by blocking helpers when their owner is shutting
// down.
var ErrQuitting = fmt.Errorf("quitting")

// RecvResp waits for a response, an error or a quit signal, whichever comes
// first.
func RecvResp[T any](r <-chan T, e <-chan error, q <-chan struct{}) (T, error) {
	var noResp T

	select {
	case resp := <-r:
		return resp, nil

	case err := <-e:
		return noResp, err

	case <-q:
		return noResp, ErrQuitting
	}
}

// ContextGuard ties the lifetime of derived contexts to a quit channel, so
// that long running subsystems can hand out contexts that are cancelled on
// shutdown.
type ContextGuard struct {
	// DefaultTimeout is used by WithCtxQuit when no explicit timeout is
	// wanted.
	DefaultTimeout time.Duration

	// Wg tracks the goroutines owned by the subsystem.
	Wg sync.WaitGroup

	// Quit is closed when the subsystem stops.
	Quit chan struct{}
}

// NewContextGuard returns a guard with an open quit channel.
func NewContextGuard(timeout time.Duration) *ContextGuard {
	return &ContextGuard{
		DefaultTimeout: timeout,
		Quit:           make(chan struct{}),
	}
}

// WithCtxQuit returns a context that is cancelled when the guard quits.
func (g *ContextGuard) WithCtxQuit() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	g.Wg.Add(1)
	go func() {
		defer g.Wg.Done()

		select {
		case <-g.Quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// CtxBlocking returns a context bounded by DefaultTimeout and by the guard's
// quit signal.
func (g *ContextGuard) CtxBlocking() (context.Context, func()) {
	ctx, cancel := g.WithCtxQuit()
	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, g.DefaultTimeout)

	return timeoutCtx, func() {
		timeoutCancel()
		cancel()
	}
}
