// Package capture records microphone audio into a single request: bytes are
// collected in fixed-interval chunks while recording and sent as one
// base64 audio envelope on stop.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/eventloop"
	"github.com/chadiek/voice-session/internal/protocol"
)

var (
	ErrNotConnected     = errors.New("capture: not connected to server")
	ErrAlreadyRecording = errors.New("capture: already recording")
	ErrNotRecording     = errors.New("capture: not recording")
	// ErrMicrophone wraps a denied or failed device open.
	ErrMicrophone = errors.New("capture: microphone unavailable")
)

// Conn is the slice of the connection manager a recording needs.
type Conn interface {
	Connected() bool
	Send(payload []byte) error
}

// Events are optional notifications, all delivered on the loop.
type Events struct {
	OnStarted func()
	// OnStopped reports the size of the payload that was sent.
	OnStopped func(bytes int)
	OnLevel   func(level float64)
	// OnError reports a device fault during recording; the session stays active until Stop.
	OnError func(err error)
}

// Options configures a Controller.
type Options struct {
	Executor      eventloop.Executor
	Scheduler     eventloop.Scheduler
	Microphone    Microphone
	Conn          Conn
	Constraints   Constraints
	ChunkInterval time.Duration
	MeterInterval time.Duration
	// StopTimeout bounds the wait for trailing bytes after the device is released.
	StopTimeout time.Duration
	Events      Events
	Logger      zerolog.Logger
}

// Controller must only be used from loop tasks.
type Controller struct {
	exec        eventloop.Executor
	sched       eventloop.Scheduler
	mic         Microphone
	conn        Conn
	constraints Constraints
	chunkEvery  time.Duration
	meterEvery  time.Duration
	stopTimeout time.Duration
	events      Events
	logger      zerolog.Logger

	session *recording
}

// recording is the one in-progress capture.
type recording struct {
	stream Stream
	buf    *captureBuffer
	chunks [][]byte
	active bool

	pump       eventloop.Timer
	meter      *levelMeter
	readerDone chan struct{}
}

// NewController returns an idle controller.
func NewController(opts Options) *Controller {
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = time.Second
	}
	if opts.MeterInterval <= 0 {
		opts.MeterInterval = DefaultMeterInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}
	if opts.Constraints.SampleRate <= 0 {
		opts.Constraints = DefaultConstraints()
	}
	return &Controller{
		exec:        opts.Executor,
		sched:       opts.Scheduler,
		mic:         opts.Microphone,
		conn:        opts.Conn,
		constraints: opts.Constraints,
		chunkEvery:  opts.ChunkInterval,
		meterEvery:  opts.MeterInterval,
		stopTimeout: opts.StopTimeout,
		events:      opts.Events,
		logger:      opts.Logger.With().Str("component", "capture").Logger(),
	}
}

// Active reports whether a recording is in progress.
func (c *Controller) Active() bool { return c.session != nil && c.session.active }

// Start opens the microphone and begins a recording. Refusals leave no session behind.
func (c *Controller) Start(ctx context.Context) error {
	if !c.conn.Connected() {
		return ErrNotConnected
	}
	if c.session != nil {
		return ErrAlreadyRecording
	}

	stream, err := c.mic.Open(ctx, c.constraints)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Microphone open failed")
		return fmt.Errorf("%w: %w", ErrMicrophone, err)
	}

	s := &recording{
		stream:     stream,
		buf:        &captureBuffer{},
		active:     true,
		readerDone: make(chan struct{}),
	}
	if src, ok := stream.(LevelSource); ok {
		s.meter = &levelMeter{sched: c.sched, interval: c.meterEvery, source: src, emit: c.events.OnLevel}
	}
	c.session = s

	go pumpCapture(stream, s.buf, func(err error) {
		c.exec.Post(func() {
			if c.session != s {
				return
			}
			c.logger.Warn().Err(err).Msg("Capture read failed")
			if c.events.OnError != nil {
				c.events.OnError(err)
			}
		})
	}, s.readerDone)

	c.armPump(s)
	if s.meter != nil {
		s.meter.start()
	}
	c.logger.Info().Int("sample_rate", c.constraints.SampleRate).Msg("Recording started")
	if c.events.OnStarted != nil {
		c.events.OnStarted()
	}
	return nil
}

func (c *Controller) armPump(s *recording) {
	s.pump = c.sched.After(c.chunkEvery, func() {
		if c.session != s || !s.active {
			return
		}
		c.flush(s)
		c.armPump(s)
	})
}

// flush moves the pending bytes into a new chunk.
func (c *Controller) flush(s *recording) {
	if data := s.buf.take(); len(data) > 0 {
		s.chunks = append(s.chunks, data)
	}
}

// Stop ends the recording and sends it as one audio request. The session is
// cleared whether or not the send succeeds.
func (c *Controller) Stop() error {
	s := c.session
	if s == nil {
		return ErrNotRecording
	}

	if s.meter != nil {
		s.meter.stop()
	}
	if s.pump != nil {
		s.pump.Stop()
	}
	if err := s.stream.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("Capture did not stop cleanly")
	}
	select {
	case <-s.readerDone:
	case <-time.After(c.stopTimeout):
		c.logger.Warn().Dur("timeout", c.stopTimeout).Msg("Capture reader did not finish, dropping trailing bytes")
	}
	c.flush(s)
	s.active = false

	payload := bytes.Join(s.chunks, nil)
	chunks := len(s.chunks)
	s.chunks = nil
	c.session = nil

	msg, err := protocol.EncodeAudio(payload)
	if err != nil {
		return fmt.Errorf("capture: encode recording: %w", err)
	}
	if err := c.conn.Send(msg); err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("Recording discarded")
		return fmt.Errorf("capture: send recording: %w", err)
	}
	c.logger.Info().Int("bytes", len(payload)).Int("chunks", chunks).Msg("Recording sent")
	if c.events.OnStopped != nil {
		c.events.OnStopped(len(payload))
	}
	return nil
}

// Toggle starts a recording when idle and stops it otherwise. It reports
// whether a recording is active afterwards.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	if c.Active() {
		return false, c.Stop()
	}
	if err := c.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Abort releases the device and drops the recording without sending it.
func (c *Controller) Abort() error {
	s := c.session
	if s == nil {
		return ErrNotRecording
	}
	if s.meter != nil {
		s.meter.stop()
	}
	if s.pump != nil {
		s.pump.Stop()
	}
	if err := s.stream.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("Capture did not stop cleanly")
	}
	s.active = false
	s.chunks = nil
	c.session = nil
	c.logger.Info().Msg("Recording discarded")
	return nil
}
