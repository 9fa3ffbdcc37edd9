package eventloop

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ManualScheduler is a Scheduler driven by an explicit virtual clock, for
// deterministic tests of timer-driven behavior. Due tasks are posted to the
// executor rather than run inline.
type ManualScheduler struct {
	exec Executor

	mu      sync.Mutex
	now     time.Duration
	pending []*manualTimer
	created int
}

// NewManualScheduler returns a scheduler at virtual time zero.
func NewManualScheduler(exec Executor) *ManualScheduler {
	return &ManualScheduler{exec: exec}
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped atomic.Bool
}

func (t *manualTimer) Stop() bool { return !t.stopped.Swap(true) }

// After records fn to run d after the current virtual time.
func (s *ManualScheduler) After(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	t := &manualTimer{at: s.now + d, seq: s.created, fn: fn}
	s.pending = append(s.pending, t)
	return t
}

// Advance moves the clock forward and posts every task that became due, in due order.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	s.now += d
	var due, rest []*manualTimer
	for _, t := range s.pending {
		switch {
		case t.stopped.Load():
		case t.at <= s.now:
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	s.pending = rest
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at == due[j].at {
			return due[i].seq < due[j].seq
		}
		return due[i].at < due[j].at
	})
	for _, t := range due {
		t := t
		s.exec.Post(func() {
			if !t.stopped.Load() {
				t.fn()
			}
		})
	}
	return len(due)
}

// Pending counts timers that are neither stopped nor fired.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

// Scheduled counts every After call so far.
func (s *ManualScheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}
