package queue

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of asynchronous work, usually one download.
type Task struct {
	Id  string
	Run func(ctx context.Context)
}

// Dispatcher runs every published task on its own goroutine. With a positive
// concurrency only that many tasks run at once and the rest wait their turn.
type Dispatcher struct {
	group   *errgroup.Group
	pending sync.WaitGroup
	ctx     context.Context
}

func NewDispatcher(ctx context.Context, concurrency int) *Dispatcher {
	g := new(errgroup.Group)

	if concurrency <= 0 {
		concurrency = -1
	}
	g.SetLimit(concurrency)

	return &Dispatcher{
		group: g,
		ctx:   ctx,
	}
}

// Publish schedules t and returns immediately.
func (d *Dispatcher) Publish(t Task) {
	d.pending.Add(1)

	// errgroup.Go blocks while the limit is reached, keep Publish non-blocking
	go func() {
		defer d.pending.Done()

		d.group.Go(func() error {
			slog.Info("task started", slog.String("id", t.Id))
			t.Run(d.ctx)
			slog.Info("task finished", slog.String("id", t.Id))
			return nil
		})
	}()

	slog.Info("published task", slog.String("id", t.Id))
}

// Wait blocks until every published task returned.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
	d.group.Wait()
}
