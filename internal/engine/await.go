package engine

import (
	"context"
	"time"
)

// await runs fn on its own goroutine and returns when it finishes or ctx is
// done, whichever happens first. Abandoned work keeps running until fn
// notices the cancelled context. Panics in fn come back as *panicError.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.err = &panicError{value: r}
			}
			done <- out
		}()
		out.val, out.err = fn(ctx)
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case out := <-done:
		return out.val, out.err
	}
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
