package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerRunsInitialTask(t *testing.T) {
	ran := make(chan struct{}, 1)
	w := New(func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, nil)

	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run after Start")
	}
}

func TestWorkerWakeupBeforeStart(t *testing.T) {
	w := New(func(ctx context.Context) error { return nil }, nil)
	if err := w.Wakeup(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestWorkerCoalescesWakeups(t *testing.T) {
	var runs atomic.Int64
	block := make(chan struct{})
	started := make(chan struct{}, 16)

	w := New(func(ctx context.Context) error {
		started <- struct{}{}
		runs.Add(1)
		<-block
		return nil
	}, nil)

	w.Start(context.Background())
	defer w.Stop()

	// Wait for the initial run to be in flight, then pile on wakeups
	<-started
	for i := 0; i < 10; i++ {
		if err := w.Wakeup(); err != nil {
			t.Fatalf("wakeup failed: %v", err)
		}
	}

	// Release the first run, then exactly one coalesced rerun follows
	block <- struct{}{}
	<-started
	block <- struct{}{}

	// No third run should arrive
	select {
	case <-started:
		t.Fatal("wakeups were not coalesced")
	case <-time.After(100 * time.Millisecond):
	}

	if got := runs.Load(); got != 2 {
		t.Errorf("expected 2 runs, got %d", got)
	}
}

func TestWorkerDeliversErrors(t *testing.T) {
	taskErr := errors.New("boom")
	got := make(chan error, 1)

	w := New(
		func(ctx context.Context) error { return taskErr },
		func(err error) {
			select {
			case got <- err:
			default:
			}
		},
	)
	w.Start(context.Background())
	defer w.Stop()

	select {
	case err := <-got:
		if !errors.Is(err, taskErr) {
			t.Errorf("expected task error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error was not delivered")
	}
}

func TestWorkerStop(t *testing.T) {
	var runs atomic.Int64
	w := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, nil)

	w.Start(context.Background())
	w.Stop()

	// Stop is idempotent and Wakeup after Stop is a silent no-op
	w.Stop()
	if err := w.Wakeup(); err != nil {
		t.Errorf("wakeup after stop: %v", err)
	}

	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != settled {
		t.Error("task ran after Stop returned")
	}
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	var runs atomic.Int64
	w := New(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, nil)

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx)
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
