// Package progress keeps the single "working" indicator in step with the
// backend's processing hints.
package progress

import "github.com/chadiek/voice-session/internal/protocol"

// Indicator displays or removes the one progress slot.
type Indicator interface {
	ShowProcessing(stage protocol.Stage, message string)
	ClearProcessing()
}

// Tracker owns the slot. It never times out: without a terminal envelope the
// indicator stays up.
type Tracker struct {
	view    Indicator
	current protocol.Stage
	visible bool
}

// NewTracker returns a tracker with no indicator shown.
func NewTracker(view Indicator) *Tracker {
	return &Tracker{view: view}
}

// OnProcessing replaces whatever indicator is showing with stage.
func (t *Tracker) OnProcessing(stage protocol.Stage) {
	t.current = stage
	t.visible = true
	t.view.ShowProcessing(stage, stage.Message())
}

// OnTerminal removes the indicator, whether or not one is showing.
func (t *Tracker) OnTerminal() {
	t.current = ""
	t.visible = false
	t.view.ClearProcessing()
}

// Current returns the stage on display, if any.
func (t *Tracker) Current() (protocol.Stage, bool) {
	return t.current, t.visible
}
