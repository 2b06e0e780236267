package listener

import (
	"context"
	"log/slog"
	"sync"
)

// Job is a background worker with an explicit lifetime.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener runs handler for every value received on in, one at a time, until stopped.
// A failing handler does not stop the listener: the error goes to the error hook and the next
// value is handled as usual.
type Listener[T any] struct {
	handler     func(input T) error
	onError     func(error)
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		in:      in,
		handler: handler,
		onError: func(err error) {
			slog.Error("listener handler failed", "error", err)
		},
		cancel:      func() {},
		stopHandler: stopHandler[0],
	}
}

// OnError replaces the error hook. Must be called before Start.
func (l *Listener[T]) OnError(fn func(error)) {
	l.onError = fn
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case inp, ok := <-l.in:
				if !ok {
					return
				}
				if err := l.handler(inp); err != nil {
					l.onError(err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the worker, waits for the value in flight and runs the stop handler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
