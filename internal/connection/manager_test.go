package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-session/internal/eventloop"
	"github.com/chadiek/voice-session/internal/protocol"
)

type fakeTransport struct {
	h      Handlers
	sent   [][]byte
	closed bool
	err    error
}

func (f *fakeTransport) Send(data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close() error { f.closed = true; return nil }

type fakeDialer struct {
	opened    []*fakeTransport
	endpoints []string
}

func (d *fakeDialer) Open(_ context.Context, endpoint string, h Handlers) Transport {
	t := &fakeTransport{h: h}
	d.opened = append(d.opened, t)
	d.endpoints = append(d.endpoints, endpoint)
	return t
}

func (d *fakeDialer) last() *fakeTransport { return d.opened[len(d.opened)-1] }

type harness struct {
	loop    *eventloop.Loop
	sched   *eventloop.ManualScheduler
	dialer  *fakeDialer
	m       *Manager
	states  []State
	failed  int
	errs    []error
	retries []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{loop: eventloop.New(), dialer: &fakeDialer{}}
	h.sched = eventloop.NewManualScheduler(h.loop)
	h.m = NewManager(Options{
		Executor:  h.loop,
		Scheduler: h.sched,
		Dialer:    h.dialer,
		Endpoint:  "ws://assistant.local/ws",
		Policy:    DefaultPolicy(),
		Logger:    zerolog.Nop(),
		Events: Events{
			OnStateChange:  func(_, s State) { h.states = append(h.states, s) },
			OnFailed:       func() { h.failed++ },
			OnError:        func(err error) { h.errs = append(h.errs, err) },
			OnReconnecting: func(n, _ int, _ time.Duration) { h.retries = append(h.retries, n) },
		},
	})
	return h
}

func (h *harness) open()  { h.dialer.last().h.OnOpen(); h.loop.Drain() }
func (h *harness) abort() { h.dialer.last().h.OnClose(1006, "abnormal"); h.loop.Drain() }
func (h *harness) elapse(d time.Duration) {
	h.sched.Advance(d)
	h.loop.Drain()
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	h.m.Connect()
	assert.Equal(t, StateConnecting, h.m.State())
	assert.Len(t, h.dialer.opened, 1)

	h.open()
	h.m.Connect()
	assert.Equal(t, StateConnected, h.m.State())
	assert.Len(t, h.dialer.opened, 1)
	assert.Equal(t, "ws://assistant.local/ws", h.dialer.endpoints[0])
}

func TestManager_CloseSchedulesReconnectAfterFixedDelay(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	h.open()

	for cycle := 1; cycle <= 4; cycle++ {
		h.abort()
		require.Equal(t, StateReconnecting, h.m.State())
		require.Equal(t, cycle, h.m.Attempts(), "attempts increments by exactly one per cycle")

		h.elapse(1999 * time.Millisecond)
		require.Equal(t, StateReconnecting, h.m.State(), "must wait the full delay")
		require.Len(t, h.dialer.opened, cycle)

		h.elapse(time.Millisecond)
		require.Equal(t, StateConnecting, h.m.State())
		require.Len(t, h.dialer.opened, cycle+1)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, h.retries)
}

func TestManager_FailsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()

	// Five abnormal closes, each followed by the fixed delay, with no successful open.
	for i := 0; i < 5; i++ {
		h.abort()
		assert.Equal(t, StateReconnecting, h.m.State())
		h.elapse(2 * time.Second)
	}
	// The fifth reconnect attempt fails too.
	h.abort()

	assert.Equal(t, StateFailed, h.m.State())
	assert.Equal(t, 5, h.sched.Scheduled(), "exactly five reconnects were scheduled")
	assert.Equal(t, 1, h.failed)
	assert.Len(t, h.dialer.opened, 6)

	h.elapse(time.Minute)
	h.m.Connect()
	assert.Equal(t, StateFailed, h.m.State())
	assert.Equal(t, 5, h.sched.Scheduled(), "no further automatic attempts")
	assert.Len(t, h.dialer.opened, 6)
}

func TestManager_SuccessfulOpenResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	for i := 0; i < 3; i++ {
		h.abort()
		h.elapse(2 * time.Second)
	}
	require.Equal(t, 3, h.m.Attempts())

	h.open()
	assert.Equal(t, StateConnected, h.m.State())
	assert.Zero(t, h.m.Attempts())

	// After a reset the full budget is available again.
	h.abort()
	assert.Equal(t, 1, h.m.Attempts())
}

func TestManager_StaleTimerIsNoOpAfterRecovery(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	h.open()
	h.abort()
	require.Equal(t, StateReconnecting, h.m.State())

	// User reconnects manually before the timer fires.
	h.m.Connect()
	h.open()
	require.Equal(t, StateConnected, h.m.State())

	h.elapse(2 * time.Second)
	assert.Equal(t, StateConnected, h.m.State())
	assert.Len(t, h.dialer.opened, 2)
}

func TestManager_EventsFromOldTransportIgnored(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	first := h.dialer.last()
	first.h.OnOpen()
	h.loop.Drain()
	first.h.OnClose(1006, "gone")
	h.loop.Drain()
	h.elapse(2 * time.Second)
	h.open()
	require.Equal(t, StateConnected, h.m.State())

	var got []protocol.Envelope
	h.m.SubscribeAll(func(e protocol.Envelope) { got = append(got, e) })
	first.h.OnMessage([]byte(`{"type":"response","text":"late"}`))
	first.h.OnClose(1006, "again")
	h.loop.Drain()

	assert.Empty(t, got)
	assert.Equal(t, StateConnected, h.m.State())
}

func TestManager_ErrorIsNonFatalAndCloseDrivesState(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	h.open()
	h.dialer.last().h.OnError(errors.New("reset by peer"))
	h.loop.Drain()
	assert.Equal(t, StateConnected, h.m.State())
	require.Len(t, h.errs, 1)

	h.abort()
	assert.Equal(t, StateReconnecting, h.m.State())
}

func TestManager_SendRequiresConnected(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Send([]byte("x")), ErrNotConnected)

	h.m.Connect()
	assert.ErrorIs(t, h.m.Send([]byte("x")), ErrNotConnected)

	h.open()
	require.NoError(t, h.m.Send([]byte(`{"type":"text","text":"hi"}`)))
	assert.Len(t, h.dialer.last().sent, 1)

	h.dialer.last().err = errors.New("broken pipe")
	err := h.m.Send([]byte("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)

	h.abort()
	assert.ErrorIs(t, h.m.Send([]byte("x")), ErrNotConnected)
}

func TestManager_DispatchInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	var order []string
	h.m.Subscribe(protocol.KindProcessing, func(e protocol.Envelope) { order = append(order, "processing:"+string(e.Stage)) })
	h.m.Subscribe(protocol.KindResponse, func(e protocol.Envelope) { order = append(order, "response:"+e.Text) })
	h.m.SubscribeAll(func(e protocol.Envelope) { order = append(order, "all:"+string(e.Kind)) })

	h.m.Connect()
	h.open()
	tr := h.dialer.last()
	tr.h.OnMessage([]byte(`{"type":"processing","stage":"generating"}`))
	tr.h.OnMessage([]byte(`not json`))
	tr.h.OnMessage([]byte(`{"type":"mystery","x":1}`))
	tr.h.OnMessage([]byte(`{"type":"response","text":"hi"}`))
	h.loop.Drain()

	assert.Equal(t, []string{
		"processing:generating", "all:processing",
		"response:hi", "all:response",
	}, order)
	assert.Equal(t, StateConnected, h.m.State())
	assert.Empty(t, h.errs, "protocol faults are not surfaced")
}

func TestManager_ReloadClearsFailed(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	for i := 0; i < 5; i++ {
		h.abort()
		h.elapse(2 * time.Second)
	}
	h.abort()
	require.Equal(t, StateFailed, h.m.State())

	h.m.Reload()
	assert.Equal(t, StateConnecting, h.m.State())
	assert.Zero(t, h.m.Attempts())
	h.open()
	assert.Equal(t, StateConnected, h.m.State())
}

func TestManager_CloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	h.m.Connect()
	h.open()
	tr := h.dialer.last()

	h.m.Close()
	assert.True(t, tr.closed)
	assert.Equal(t, StateDisconnected, h.m.State())

	tr.h.OnClose(1000, "closed by client")
	h.loop.Drain()
	h.elapse(time.Minute)
	assert.Equal(t, StateDisconnected, h.m.State())
	assert.Zero(t, h.sched.Scheduled())
}

func TestEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":          "ws://localhost:8000/ws",
		"https://assistant.example.com/": "wss://assistant.example.com/ws",
		"https://host/app?x=1#frag":      "wss://host/ws",
		"ws://host:1234":                 "ws://host:1234/ws",
	}
	for in, want := range cases {
		got, err := Endpoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"ftp://host", "http://", "::"} {
		_, err := Endpoint(bad)
		assert.Error(t, err, bad)
	}
}
