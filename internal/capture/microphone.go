package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Constraints are the capture hints requested from the device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// DefaultConstraints asks for 16 kHz mono with echo cancellation and noise suppression.
func DefaultConstraints() Constraints {
	return Constraints{EchoCancellation: true, NoiseSuppression: true, SampleRate: 16000, Channels: 1}
}

// Stream is a live capture. Read yields encoded audio; after Stop, Read
// drains what the device already produced and then returns io.EOF.
type Stream interface {
	io.Reader
	// Stop halts capture and releases the device. It is safe to call twice.
	Stop() error
}

// LevelSource is implemented by streams that can report the current input level in [0, 1].
type LevelSource interface {
	Level() float64
}

// Microphone grants capture streams.
type Microphone interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// FFmpegMicrophone captures from the system input device through an ffmpeg subprocess.
type FFmpegMicrophone struct {
	Command     string
	InputFormat string
	InputDevice string
	// Container is the stream format written to stdout: wav, webm or ogg.
	Container string
}

// NewFFmpegMicrophone fills platform defaults for empty fields.
func NewFFmpegMicrophone(command, inputFormat, inputDevice, container string) *FFmpegMicrophone {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = defaultInputFormat()
	}
	if inputDevice == "" {
		inputDevice = defaultInputDevice(inputFormat)
	}
	if container == "" {
		container = "wav"
	}
	return &FFmpegMicrophone{Command: command, InputFormat: inputFormat, InputDevice: inputDevice, Container: container}
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

func defaultInputDevice(format string) string {
	switch format {
	case "avfoundation":
		return ":0"
	case "dshow":
		return "audio=default"
	default:
		return "default"
	}
}

// Args returns the ffmpeg command line for c. ffmpeg has no echo canceller,
// so EchoCancellation is honored only by selecting an echo-cancelled source
// as the input device (e.g. PulseAudio's module-echo-cancel).
func (m *FFmpegMicrophone) Args(c Constraints) ([]string, error) {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", m.InputFormat,
		"-i", m.InputDevice,
	}
	if c.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	args = append(args,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
	)
	switch m.Container {
	case "wav":
		args = append(args, "-c:a", "pcm_s16le", "-f", "wav")
	case "webm", "ogg":
		args = append(args, "-c:a", "libopus", "-f", m.Container)
	default:
		return nil, fmt.Errorf("unsupported capture container %q", m.Container)
	}
	return append(args, "-"), nil
}

// Open starts ffmpeg and returns once it has survived its startup window.
func (m *FFmpegMicrophone) Open(ctx context.Context, c Constraints) (Stream, error) {
	args, err := m.Args(c)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, m.Command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	// A plain pipe instead of StdoutPipe: Wait must not close the read end
	// before the trailing bytes written on interrupt have been drained.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	s := &ffmpegStream{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}
	if m.Container == "wav" {
		s.meter = &pcmMeter{skip: wavHeaderSize}
	}
	return s, nil
}

type ffmpegStream struct {
	stdout  *os.File
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error
	meter   *pcmMeter

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if n > 0 && s.meter != nil {
		s.meter.observe(p[:n])
	}
	if err != nil {
		s.closeOnce.Do(func() { _ = s.stdout.Close() })
		if errors.Is(err, os.ErrClosed) {
			err = io.EOF
		}
	}
	return n, err
}

func (s *ffmpegStream) Level() float64 {
	if s.meter == nil {
		return 0
	}
	return s.meter.level()
}

// Stop interrupts ffmpeg so it flushes its output, killing it if it lingers.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeExit(err)
			}
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// An interrupted ffmpeg exits non-zero; that is the normal way to end a capture.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

const wavHeaderSize = 44

// pcmMeter tracks the RMS of the most recent s16le block.
type pcmMeter struct {
	mu   sync.Mutex
	skip int
	odd  []byte
	rms  float64
}

func (m *pcmMeter) observe(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skip > 0 {
		if len(p) <= m.skip {
			m.skip -= len(p)
			return
		}
		p = p[m.skip:]
		m.skip = 0
	}
	if len(m.odd) > 0 {
		p = append(m.odd, p...)
		m.odd = nil
	}
	if len(p)%2 == 1 {
		m.odd = []byte{p[len(p)-1]}
		p = p[:len(p)-1]
	}
	if len(p) == 0 {
		return
	}
	m.rms = rms16(p)
}

func (m *pcmMeter) level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rms
}

// rms16 returns the normalized RMS of little-endian 16-bit samples.
func rms16(p []byte) float64 {
	n := len(p) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(p[2*i:]))) / 32768
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(n)))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
