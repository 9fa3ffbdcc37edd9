// Package agent assembles one voice-chat session: it owns the connection,
// capture, playback, progress and identity components, routes server
// envelopes to them, and turns user actions into requests.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/capture"
	"github.com/chadiek/voice-session/internal/connection"
	"github.com/chadiek/voice-session/internal/eventloop"
	"github.com/chadiek/voice-session/internal/identity"
	"github.com/chadiek/voice-session/internal/playback"
	"github.com/chadiek/voice-session/internal/progress"
	"github.com/chadiek/voice-session/internal/protocol"
)

// ErrEmptyText is returned when a submitted message is blank after trimming.
var ErrEmptyText = errors.New("agent: empty message")

// Options are the injected ports and settings of a Session.
type Options struct {
	Executor  eventloop.Executor
	Scheduler eventloop.Scheduler

	Dialer   connection.Dialer
	Endpoint string
	Policy   connection.Policy

	Microphone    capture.Microphone
	Constraints   capture.Constraints
	ChunkInterval time.Duration

	Player playback.Player

	Backend Backend
	// HealthInterval between background health checks; zero disables polling.
	HealthInterval time.Duration
	// DownloadDir and ExportFormat are the /download defaults.
	DownloadDir  string
	ExportFormat string

	Renderer Renderer
	Logger   zerolog.Logger
}

// Session is the composition root. All methods except Wait must run on the event loop.
type Session struct {
	ctx    context.Context
	exec   eventloop.Executor
	sched  eventloop.Scheduler
	view   Renderer
	api    Backend
	logger zerolog.Logger

	identity *identity.Session
	tracker  *progress.Tracker
	conn     *connection.Manager
	capture  *capture.Controller
	playback *playback.Controller

	healthEvery  time.Duration
	healthTimer  eventloop.Timer
	downloadDir  string
	exportFormat string
	closed       bool
}

// New builds every component and subscribes the session to the connection.
// ctx bounds transports, playbacks and backend calls.
func New(ctx context.Context, opts Options) *Session {
	s := &Session{
		ctx:          ctx,
		exec:         opts.Executor,
		sched:        opts.Scheduler,
		view:         opts.Renderer,
		api:          opts.Backend,
		logger:       opts.Logger.With().Str("component", "agent").Logger(),
		identity:     identity.New(),
		tracker:      progress.NewTracker(opts.Renderer),
		healthEvery:  opts.HealthInterval,
		downloadDir:  opts.DownloadDir,
		exportFormat: opts.ExportFormat,
	}

	s.conn = connection.NewManager(connection.Options{
		Executor:  opts.Executor,
		Scheduler: opts.Scheduler,
		Dialer:    opts.Dialer,
		Endpoint:  opts.Endpoint,
		Policy:    opts.Policy,
		Logger:    opts.Logger,
		Context:   ctx,
		Events: connection.Events{
			OnStateChange:  s.onStateChange,
			OnConnected:    s.onConnected,
			OnError:        s.onTransportError,
			OnReconnecting: s.onReconnecting,
			OnFailed:       s.onFailed,
		},
	})

	s.capture = capture.NewController(capture.Options{
		Executor:      opts.Executor,
		Scheduler:     opts.Scheduler,
		Microphone:    opts.Microphone,
		Conn:          s.conn,
		Constraints:   opts.Constraints,
		ChunkInterval: opts.ChunkInterval,
		Logger:        opts.Logger,
		Events: capture.Events{
			OnStarted: func() { s.view.RecordingChanged(true) },
			OnLevel:   s.view.Level,
			OnError:   func(err error) { s.view.Notice("Microphone: " + err.Error()) },
		},
	})

	s.playback = playback.NewController(ctx, opts.Executor, opts.Player, func(err error) {
		s.view.Notice("Audio playback failed: " + err.Error())
	}, opts.Logger)

	s.conn.Subscribe(protocol.KindStatus, s.onStatus)
	s.conn.Subscribe(protocol.KindTranscript, func(e protocol.Envelope) { s.view.UserMessage(e.Text, true) })
	s.conn.Subscribe(protocol.KindResponse, s.onResponse)
	s.conn.Subscribe(protocol.KindAudioResponse, func(e protocol.Envelope) { _ = s.playback.Play(e.Audio) })
	s.conn.Subscribe(protocol.KindProcessing, func(e protocol.Envelope) { s.tracker.OnProcessing(e.Stage) })
	s.conn.Subscribe(protocol.KindError, s.onServerError)
	return s
}

// Start renders the provisional identity, connects and begins health polling.
func (s *Session) Start() {
	s.view.SessionChanged(s.identity.Get(), false)
	s.conn.Connect()
	if s.api != nil {
		s.CheckHealth()
		s.armHealth()
	}
}

// Close discards any recording, stops polling and closes the connection.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.capture.Active() {
		_ = s.capture.Abort()
		s.view.RecordingChanged(false)
	}
	if s.healthTimer != nil {
		s.healthTimer.Stop()
		s.healthTimer = nil
	}
	s.conn.Close()
}

// Wait blocks until playbacks started by the session have finished. Call it off the loop.
func (s *Session) Wait() { s.playback.Wait() }

// SessionID returns the current conversation id.
func (s *Session) SessionID() string { return s.identity.Get() }

// State returns the connection state.
func (s *Session) State() connection.State { return s.conn.State() }

// Recording reports whether the microphone is capturing.
func (s *Session) Recording() bool { return s.capture.Active() }

// SubmitText sends a typed message. Blank input is ignored silently, and a
// disconnected session refuses with a visible error.
func (s *Session) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if !s.conn.Connected() {
		s.view.Error("Not connected to server")
		return connection.ErrNotConnected
	}
	payload, err := protocol.EncodeText(text)
	if err != nil {
		return fmt.Errorf("agent: encode text: %w", err)
	}
	if err := s.conn.Send(payload); err != nil {
		s.view.Error("Failed to send message: " + err.Error())
		return err
	}
	s.view.UserMessage(text, false)
	return nil
}

// ToggleRecord starts or stops a recording, surfacing refusals to the user.
func (s *Session) ToggleRecord() error {
	wasActive := s.capture.Active()
	active, err := s.capture.Toggle(s.ctx)
	if wasActive {
		s.view.RecordingChanged(false)
	}
	if err != nil {
		s.view.Error(recordingMessage(err))
		return err
	}
	if !active {
		s.view.Notice("Recording sent")
	}
	return nil
}

func recordingMessage(err error) string {
	switch {
	case errors.Is(err, capture.ErrNotConnected):
		return "Not connected to server"
	case errors.Is(err, capture.ErrAlreadyRecording):
		return "Already recording"
	case errors.Is(err, capture.ErrMicrophone):
		return "Could not access microphone: " + strings.TrimPrefix(err.Error(), capture.ErrMicrophone.Error()+": ")
	case errors.Is(err, connection.ErrNotConnected):
		return "Recording discarded: connection lost"
	default:
		return "Recording failed: " + err.Error()
	}
}

// Reload is the manual recovery after the reconnect budget is spent.
func (s *Session) Reload() {
	s.view.Notice("Reconnecting...")
	s.conn.Reload()
}

func (s *Session) onStateChange(_, state connection.State) {
	detail := ""
	switch state {
	case connection.StateConnecting:
		detail = "Connecting..."
	case connection.StateConnected:
		detail = "Connected"
	case connection.StateDisconnected:
		detail = "Disconnected"
	case connection.StateFailed:
		detail = "Connection failed. Use /reload to try again."
	default:
		return
	}
	s.view.ConnectionChanged(state, detail)
}

func (s *Session) onConnected() {
	s.identity.Unconfirm()
	s.view.SessionChanged(s.identity.Get(), false)
}

func (s *Session) onReconnecting(attempt, max int, delay time.Duration) {
	s.view.ConnectionChanged(connection.StateReconnecting,
		fmt.Sprintf("Reconnecting (%d/%d) in %s...", attempt, max, delay))
}

func (s *Session) onFailed() {
	s.logger.Error().Msg("Giving up on the connection")
}

func (s *Session) onTransportError(err error) {
	s.logger.Debug().Err(err).Msg("Transport fault")
}

func (s *Session) onStatus(e protocol.Envelope) {
	if s.identity.Set(e.SessionID) {
		s.view.SessionChanged(s.identity.Get(), true)
	}
	if e.Message != "" {
		s.view.Status(e.Message)
	}
}

func (s *Session) onResponse(e protocol.Envelope) {
	s.tracker.OnTerminal()
	s.view.AssistantMessage(e.Text)
}

func (s *Session) onServerError(e protocol.Envelope) {
	s.tracker.OnTerminal()
	msg := e.Message
	if msg == "" {
		msg = "Unknown server error"
	}
	s.view.Error(msg)
}
