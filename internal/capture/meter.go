package capture

import (
	"time"

	"github.com/chadiek/voice-session/internal/eventloop"
)

// DefaultMeterInterval samples the input level at roughly display frame rate.
const DefaultMeterInterval = 33 * time.Millisecond

// levelMeter re-arms itself on the scheduler until stopped. Start and stop are idempotent.
type levelMeter struct {
	sched    eventloop.Scheduler
	interval time.Duration
	source   LevelSource
	emit     func(float64)

	timer   eventloop.Timer
	running bool
}

func (m *levelMeter) start() {
	if m.running || m.source == nil || m.emit == nil {
		return
	}
	m.running = true
	m.arm()
}

func (m *levelMeter) arm() {
	m.timer = m.sched.After(m.interval, func() {
		if !m.running {
			return
		}
		m.emit(m.source.Level())
		m.arm()
	})
}

func (m *levelMeter) stop() {
	if !m.running {
		return
	}
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
