package runtime

import (
	"context"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Task is a long-running component. It should return when ctx is cancelled.
type Task func(ctx context.Context) error

// Group runs tasks until ctx is cancelled or one of them fails, then waits for
// all of them to return.
func Group(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		if task == nil {
			continue
		}
		task := task
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}

// Loop adapts a blocking Run(ctx) method into a Task.
func Loop(run func(ctx context.Context)) Task {
	return func(ctx context.Context) error {
		run(ctx)
		return nil
	}
}
