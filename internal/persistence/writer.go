package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWriterCapacity = 256
	writeMaxAttempts      = 3
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs database writes one at a time off the caller's goroutine,
// retrying failed writes with a linear backoff.
type WriterQueue struct {
	logger     *slog.Logger
	queue      chan writeCmd
	retryDelay time.Duration
	pending    sync.WaitGroup
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}

	return &WriterQueue{
		logger:     logger,
		queue:      make(chan writeCmd, capacity),
		retryDelay: 300 * time.Millisecond,
	}
}

// Enqueue schedules fn. When the queue is full the command is handed off to a
// goroutine so the caller never blocks.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	w.pending.Add(1)
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		go func() { w.queue <- cmd }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.drain()

				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
				w.pending.Done()
			}
		}
	}()
}

// Wait blocks until every enqueued command has finished or ctx is done.
func (w *WriterQueue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs commands still buffered at shutdown once, without retries.
func (w *WriterQueue) drain() {
	for {
		select {
		case cmd := <-w.queue:
			if err := cmd.fn(context.Background()); err != nil {
				w.logger.Error("db write failed during shutdown", "cmd", cmd.name, "error", err)
			}
			w.pending.Done()
		default:
			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writeMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * w.retryDelay):
		}
	}
}
