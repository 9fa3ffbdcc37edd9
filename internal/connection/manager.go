// Package connection owns the session WebSocket: its lifecycle state
// machine, the bounded reconnection policy, and envelope dispatch.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/eventloop"
	"github.com/chadiek/voice-session/internal/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotConnected is returned by Send outside the Connected state.
var ErrNotConnected = errors.New("connection: not connected")

// Policy bounds automatic reconnection.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy allows five attempts two seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Delay: 2 * time.Second}
}

// Events are lifecycle notifications. All fields are optional and run on the loop.
type Events struct {
	OnStateChange func(old, new State)
	OnConnected   func()
	// OnError reports a non-fatal transport fault; a close always follows.
	OnError func(err error)
	// OnReconnecting fires when attempt n of max is scheduled.
	OnReconnecting func(attempt, max int, delay time.Duration)
	// OnFailed fires once the reconnect budget is exhausted.
	OnFailed func()
}

// EnvelopeHandler consumes a dispatched envelope.
type EnvelopeHandler func(protocol.Envelope)

// Manager must only be used from tasks on its executor; transport callbacks
// are re-posted there before they touch any state.
type Manager struct {
	exec     eventloop.Executor
	sched    eventloop.Scheduler
	dialer   Dialer
	endpoint string
	policy   Policy
	events   Events
	logger   zerolog.Logger

	ctx context.Context

	state     State
	attempts  int
	gen       uint64
	transport Transport
	retry     eventloop.Timer

	subs    map[protocol.Kind][]EnvelopeHandler
	allSubs []EnvelopeHandler
}

// Options configures a Manager.
type Options struct {
	Executor  eventloop.Executor
	Scheduler eventloop.Scheduler
	Dialer    Dialer
	Endpoint  string
	Policy    Policy
	Events    Events
	Logger    zerolog.Logger
	// Context bounds every transport; defaults to context.Background.
	Context context.Context
}

// NewManager returns an Idle manager.
func NewManager(opts Options) *Manager {
	if opts.Policy.Delay <= 0 {
		opts.Policy.Delay = DefaultPolicy().Delay
	}
	if opts.Policy.MaxAttempts < 0 {
		opts.Policy.MaxAttempts = 0
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Manager{
		exec:     opts.Executor,
		sched:    opts.Scheduler,
		dialer:   opts.Dialer,
		endpoint: opts.Endpoint,
		policy:   opts.Policy,
		events:   opts.Events,
		logger:   opts.Logger.With().Str("component", "connection").Logger(),
		ctx:      opts.Context,
		state:    StateIdle,
		subs:     make(map[protocol.Kind][]EnvelopeHandler),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// Connected reports whether requests can be sent.
func (m *Manager) Connected() bool { return m.state == StateConnected && m.transport != nil }

// Attempts returns the reconnect attempts made since the last successful open.
func (m *Manager) Attempts() int { return m.attempts }

// Policy returns the reconnect policy in force.
func (m *Manager) Policy() Policy { return m.policy }

// Subscribe registers h for one envelope kind. Handlers run in registration order.
func (m *Manager) Subscribe(kind protocol.Kind, h EnvelopeHandler) {
	m.subs[kind] = append(m.subs[kind], h)
}

// SubscribeAll registers h for every known envelope, after the per-kind handlers.
func (m *Manager) SubscribeAll(h EnvelopeHandler) {
	m.allSubs = append(m.allSubs, h)
}

// Connect starts a connection attempt. It is a no-op while an attempt is in
// flight or open, and after the reconnect budget is exhausted (see Reload).
func (m *Manager) Connect() {
	switch m.state {
	case StateConnecting, StateConnected:
		return
	case StateFailed:
		m.logger.Warn().Msg("Reconnect budget exhausted, reload required")
		return
	}
	m.cancelRetry()
	m.setState(StateConnecting)

	m.gen++
	gen := m.gen
	m.logger.Info().Str("url", m.endpoint).Uint64("generation", gen).Msg("Connecting")
	m.transport = m.dialer.Open(m.ctx, m.endpoint, m.bind(gen))
}

// Reload is the explicit user recovery path: it clears the reconnect budget and connects.
func (m *Manager) Reload() {
	m.cancelRetry()
	m.dropTransport()
	m.attempts = 0
	m.setState(StateIdle)
	m.Connect()
}

// Close ends the session without reconnecting.
func (m *Manager) Close() {
	m.cancelRetry()
	if m.dropTransport() || m.state == StateConnecting || m.state == StateReconnecting {
		m.setState(StateDisconnected)
	}
}

// Send transmits one encoded request. Outside Connected it fails with ErrNotConnected.
func (m *Manager) Send(payload []byte) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	if err := m.transport.Send(payload); err != nil {
		return fmt.Errorf("connection: send: %w", err)
	}
	return nil
}

// bind wraps the transport callbacks so they run on the loop and only while
// gen is still the current transport.
func (m *Manager) bind(gen uint64) Handlers {
	post := func(fn func()) {
		m.exec.Post(func() {
			if gen != m.gen {
				return
			}
			fn()
		})
	}
	return Handlers{
		OnOpen:    func() { post(m.handleOpen) },
		OnMessage: func(data []byte) { post(func() { m.handleMessage(data) }) },
		OnError:   func(err error) { post(func() { m.handleError(err) }) },
		OnClose:   func(code int, reason string) { post(func() { m.handleClose(code, reason) }) },
	}
}

func (m *Manager) handleOpen() {
	m.attempts = 0
	m.setState(StateConnected)
	m.logger.Info().Msg("Connected")
	if m.events.OnConnected != nil {
		m.events.OnConnected()
	}
}

func (m *Manager) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			m.logger.Debug().Str("kind", string(env.Kind)).Msg("Ignoring unknown envelope")
		} else {
			m.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed envelope")
		}
		return
	}
	m.dispatch(env)
}

func (m *Manager) dispatch(env protocol.Envelope) {
	for _, h := range m.subs[env.Kind] {
		h(env)
	}
	for _, h := range m.allSubs {
		h(env)
	}
}

func (m *Manager) handleError(err error) {
	m.logger.Warn().Err(err).Msg("Transport error")
	if m.events.OnError != nil {
		m.events.OnError(err)
	}
}

func (m *Manager) handleClose(code int, reason string) {
	m.transport = nil
	m.gen++
	m.logger.Info().Int("code", code).Str("reason", reason).Msg("Connection closed")
	m.setState(StateDisconnected)

	if m.attempts >= m.policy.MaxAttempts {
		m.setState(StateFailed)
		m.logger.Error().Int("attempts", m.attempts).Msg("Reconnect budget exhausted")
		if m.events.OnFailed != nil {
			m.events.OnFailed()
		}
		return
	}

	m.attempts++
	m.setState(StateReconnecting)
	m.logger.Info().
		Int("attempt", m.attempts).
		Int("max", m.policy.MaxAttempts).
		Dur("delay", m.policy.Delay).
		Msg("Scheduling reconnect")
	if m.events.OnReconnecting != nil {
		m.events.OnReconnecting(m.attempts, m.policy.MaxAttempts, m.policy.Delay)
	}
	m.retry = m.sched.After(m.policy.Delay, m.onRetry)
}

func (m *Manager) onRetry() {
	m.retry = nil
	if m.state != StateReconnecting {
		return
	}
	m.Connect()
}

func (m *Manager) cancelRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// dropTransport detaches and closes the current transport without firing its callbacks.
func (m *Manager) dropTransport() bool {
	if m.transport == nil {
		return false
	}
	t := m.transport
	m.transport = nil
	m.gen++
	if err := t.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("Transport close")
	}
	return true
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	old := m.state
	m.state = s
	m.logger.Debug().Stringer("from", old).Stringer("to", s).Msg("State changed")
	if m.events.OnStateChange != nil {
		m.events.OnStateChange(old, s)
	}
}
