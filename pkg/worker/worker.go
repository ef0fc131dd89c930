// Package worker provides the single-flight coalescing task scheduler that
// drives the replicator loop and other pull-style consumers.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrNotStarted is returned by Wakeup before Start has been called.
var ErrNotStarted = errors.New("worker not started")

// Worker runs one task at a time. Wakeup requests made while the task runs
// collapse into a single rerun, so the task observes every state change that
// happened before its run began without ever running concurrently with itself.
type Worker struct {
	task    func(ctx context.Context) error
	onError func(err error)

	mu      sync.Mutex
	started bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates a worker for the given task. Task errors are delivered to
// onError and do not stop the worker.
func New(task func(ctx context.Context) error, onError func(err error)) *Worker {
	if onError == nil {
		onError = func(error) {}
	}
	return &Worker{
		task:    task,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the worker loop and schedules one immediate run. It is
// idempotent; calls after the first are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	// The initial run is just a queued wakeup.
	w.wake <- struct{}{}

	go w.loop(runCtx)
}

// Wakeup schedules one run. If the task is currently running, exactly one
// additional run happens after it finishes, no matter how many wakeups
// arrived in the meantime.
func (w *Worker) Wakeup() error {
	w.mu.Lock()
	started, stopped := w.started, w.stopped
	w.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if stopped {
		return nil
	}
	select {
	case w.wake <- struct{}{}:
	default:
		// A run is already pending; coalesce.
	}
	return nil
}

// Stop prevents further runs. An in-flight task is allowed to finish unless
// it observes the cancelled context. Stop blocks until the loop exits.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	<-w.done
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		if err := w.task(ctx); err != nil {
			w.onError(err)
		}
	}
}
