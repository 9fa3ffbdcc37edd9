// Package ui renders a voice-chat session as styled terminal lines.
package ui

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/chadiek/voice-session/internal/backend"
	"github.com/chadiek/voice-session/internal/connection"
	"github.com/chadiek/voice-session/internal/protocol"
)

type styles struct {
	user      lipgloss.Style
	voice     lipgloss.Style
	assistant lipgloss.Style
	status    lipgloss.Style
	notice    lipgloss.Style
	err       lipgloss.Style
	progress  lipgloss.Style
	meter     lipgloss.Style
	ok        lipgloss.Style
	warn      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:      r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		voice:     r.NewStyle().Foreground(lipgloss.Color("45")).Bold(true),
		assistant: r.NewStyle().Foreground(lipgloss.Color("135")).Bold(true),
		status:    r.NewStyle().Foreground(lipgloss.Color("243")),
		notice:    r.NewStyle().Foreground(lipgloss.Color("243")).Italic(true),
		err:       r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		progress:  r.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
		meter:     r.NewStyle().Foreground(lipgloss.Color("42")),
		ok:        r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:      r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// Terminal writes one line per event. On a TTY the progress indicator and
// the level meter share a transient bottom line that is redrawn in place;
// elsewhere indicators are printed as ordinary lines and the meter is omitted.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
	tty bool
	st  styles

	processing string
	recording  bool
	level      float64
	drawn      bool
}

// NewTerminal renders to out; tty enables in-place redraws.
func NewTerminal(out io.Writer, tty bool) *Terminal {
	return &Terminal{out: out, tty: tty, st: newStyles(lipgloss.NewRenderer(out))}
}

func (t *Terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearTransient()
	fmt.Fprintln(t.out, line)
	t.drawTransient()
}

func (t *Terminal) clearTransient() {
	if t.tty && t.drawn {
		fmt.Fprint(t.out, "\r\x1b[K")
		t.drawn = false
	}
}

func (t *Terminal) drawTransient() {
	if !t.tty {
		return
	}
	var parts []string
	if t.recording {
		parts = append(parts, t.st.err.Render("● REC")+" "+t.st.meter.Render(meterBar(t.level, 20)))
	}
	if t.processing != "" {
		parts = append(parts, t.st.progress.Render("… "+t.processing))
	}
	if len(parts) == 0 {
		return
	}
	fmt.Fprint(t.out, strings.Join(parts, "  "))
	t.drawn = true
}

func (t *Terminal) redraw() {
	t.clearTransient()
	t.drawTransient()
}

// meterBar maps a level in [0, 1] to a fixed-width bar.
func meterBar(level float64, width int) string {
	level = math.Max(0, math.Min(1, level))
	n := int(math.Round(level * float64(width)))
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

func (t *Terminal) ShowProcessing(_ protocol.Stage, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing = message
	if !t.tty {
		fmt.Fprintln(t.out, t.st.progress.Render("… "+message))
		return
	}
	t.redraw()
}

func (t *Terminal) ClearProcessing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processing == "" {
		return
	}
	t.processing = ""
	t.redraw()
}

// Processing returns the indicator text on display, if any.
func (t *Terminal) Processing() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processing
}

func (t *Terminal) ConnectionChanged(state connection.State, detail string) {
	style := t.st.warn
	switch state {
	case connection.StateConnected:
		style = t.st.ok
	case connection.StateFailed:
		style = t.st.err
	}
	t.println(style.Render("● " + detail))
}

func (t *Terminal) SessionChanged(id string, confirmed bool) {
	if !confirmed {
		return
	}
	t.println(t.st.status.Render("Session " + id))
}

func (t *Terminal) Status(message string) {
	t.println(t.st.status.Render(message))
}

func (t *Terminal) UserMessage(text string, voice bool) {
	if voice {
		t.println(t.st.voice.Render("You (voice):") + " " + text)
		return
	}
	t.println(t.st.user.Render("You:") + " " + text)
}

func (t *Terminal) AssistantMessage(text string) {
	t.println(t.st.assistant.Render("Assistant:") + " " + text)
}

func (t *Terminal) Error(message string) {
	t.println(t.st.err.Render("✗ " + message))
}

func (t *Terminal) Notice(message string) {
	t.println(t.st.notice.Render(message))
}

func (t *Terminal) RecordingChanged(active bool) {
	t.mu.Lock()
	t.recording = active
	t.level = 0
	t.mu.Unlock()
	if active {
		t.println(t.st.err.Render("● Recording... /record again to send"))
		return
	}
	t.mu.Lock()
	t.redraw()
	t.mu.Unlock()
}

func (t *Terminal) Level(level float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.recording {
		return
	}
	t.level = level
	t.redraw()
}

func (t *Terminal) HealthChanged(h backend.Health, err error) {
	if err != nil {
		t.println(t.st.warn.Render("Backend unreachable: " + err.Error()))
		return
	}
	if h.Status == "error" {
		t.println(t.st.err.Render("Backend error: " + h.Message))
		return
	}
	procs := []string{}
	for _, p := range []struct {
		name string
		up   bool
	}{{"stt", h.Processors.STT}, {"tts", h.Processors.TTS}, {"rag", h.Processors.RAG}, {"template", h.Processors.Template}} {
		mark := "✗"
		if p.up {
			mark = "✓"
		}
		procs = append(procs, mark+p.name)
	}
	line := fmt.Sprintf("Backend %s [%s] sessions=%d", h.Status, strings.Join(procs, " "), h.ActiveSessions)
	if h.RAG != nil {
		line += fmt.Sprintf(" documents=%v", h.RAG.DocumentsLoaded)
	}
	if h.Templates != nil {
		line += fmt.Sprintf(" templates=%d", h.Templates.TemplateCount)
	}
	style := t.st.ok
	if !h.Healthy() {
		style = t.st.warn
	}
	t.println(style.Render(line))
}
