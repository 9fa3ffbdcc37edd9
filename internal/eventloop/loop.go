// Package eventloop runs every client callback on one consumer goroutine so
// component state needs no locking of its own.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Executor accepts tasks for run-to-completion execution in posting order.
type Executor interface {
	Post(fn func()) bool
}

// Timer is a pending scheduled task.
type Timer interface {
	// Stop prevents the task from running. It reports whether the call stopped it.
	Stop() bool
}

// Scheduler runs a task on the loop after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
}

// Loop is an unbounded single-consumer task queue. Post never blocks, so
// tasks may post further tasks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// New returns an idle loop; call Run to start consuming.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run consumes tasks until ctx is cancelled. Tasks still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks, including ones they post, until the queue is empty
// and returns how many ran. Tests use it to step the loop without Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Do posts fn and waits for it to finish or ctx to end.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() { fn(); close(finished) }) {
		return context.Canceled
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// After schedules fn on the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return t
}

type loopTimer struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Stop also suppresses a task that already fired but has not run yet.
func (t *loopTimer) Stop() bool {
	wasCancelled := t.cancelled.Swap(true)
	stopped := t.timer.Stop()
	return stopped && !wasCancelled
}
