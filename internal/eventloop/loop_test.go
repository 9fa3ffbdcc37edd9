package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_DrainRunsInPostOrderIncludingNestedPosts(t *testing.T) {
	l := New()
	var order []int
	l.Post(func() {
		order = append(order, 1)
		l.Post(func() { order = append(order, 3) })
	})
	l.Post(func() { order = append(order, 2) })

	assert.Equal(t, 3, l.Drain())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Zero(t, l.Drain())
}

func TestLoop_RunSerializesConcurrentPosts(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() { counter++ })
		}()
	}
	wg.Wait()

	var got int
	require.NoError(t, l.Do(ctx, func() { got = counter }))
	assert.Equal(t, 50, got)
}

func TestLoop_PostAfterStopFails(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	<-l.Done()
	assert.False(t, l.Post(func() {}))
	assert.Error(t, l.Do(context.Background(), func() {}))
}

func TestLoop_AfterRunsOnLoopAndStopCancels(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	fired := make(chan struct{})
	l.After(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}

	ran := false
	tm := l.After(20*time.Millisecond, func() { ran = true })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	time.Sleep(40 * time.Millisecond)
	var observed bool
	require.NoError(t, l.Do(ctx, func() { observed = ran }))
	assert.False(t, observed)
}

func TestManualScheduler_AdvancePostsDueTasks(t *testing.T) {
	l := New()
	s := NewManualScheduler(l)
	var order []string
	s.After(2*time.Second, func() { order = append(order, "b") })
	s.After(time.Second, func() { order = append(order, "a") })
	stopped := s.After(time.Second, func() { order = append(order, "x") })
	stopped.Stop()

	assert.Equal(t, 0, s.Advance(500*time.Millisecond))
	assert.Equal(t, 2, s.Pending())
	assert.Equal(t, 2, s.Advance(2*time.Second))
	l.Drain()
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 3, s.Scheduled())
	assert.Zero(t, s.Pending())
}

func TestManualScheduler_StopFromRunningLoopWhileAdvancing(t *testing.T) {
	l := New()
	s := NewManualScheduler(l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	timers := make([]Timer, 50)
	for i := range timers {
		timers[i] = s.After(time.Duration(i)*time.Millisecond, func() {})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < len(timers); i++ {
			s.Advance(time.Millisecond)
		}
	}()
	require.NoError(t, l.Do(ctx, func() {
		for _, tm := range timers {
			tm.Stop()
		}
	}))
	wg.Wait()

	assert.False(t, timers[0].Stop(), "second Stop reports already stopped")
	assert.Zero(t, s.Pending())
}
