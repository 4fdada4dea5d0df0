// Package turn tracks the assistant's speaking state so stale transcript and
// audio events emitted after a barge-in never reach the UI or the capture
// buffers.
package turn

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/session/events"
)

type State int

const (
	Idle State = iota
	Speaking
	Interrupted
)

func (s State) String() string {
	switch s {
	case Speaking:
		return "speaking"
	case Interrupted:
		return "interrupted"
	default:
		return "idle"
	}
}

// DrainTimeout bounds how long the machine stays interrupted when the
// upstream never delivers a terminal event for the canceled turn.
const DrainTimeout = 4 * time.Second

// Decision tells the router what to do with a gated event.
type Decision struct {
	// Propagate is false for events suppressed during the drain window.
	Propagate bool
	// StartTurn is set when this event began a new assistant turn.
	StartTurn bool
	// CommitTurn is set when this event cleanly ended the current turn.
	CommitTurn bool
}

// Machine is the idle/speaking/interrupted state machine.
type Machine struct {
	mu         sync.Mutex
	state      State
	clk        clock.Clock
	drainTimer *clock.Timer
}

func New(clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.New()
	}
	return &Machine{clk: clk}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe gates one incoming event. It must be called before any other
// processing of that event.
func (m *Machine) Observe(ev events.Event) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.(type) {
	case *events.AudioTranscriptDelta, *events.AudioBufferStarted:
		if m.state == Interrupted {
			return Decision{}
		}
		if m.state == Idle {
			m.state = Speaking
			return Decision{Propagate: true, StartTurn: true}
		}
		return Decision{Propagate: true}

	case *events.AudioBufferStopped:
		switch m.state {
		case Speaking:
			m.state = Idle
			return Decision{Propagate: true, CommitTurn: true}
		case Interrupted:
			// Drain signal: consumed to leave interrupted, never surfaced.
			m.toIdleLocked()
			return Decision{}
		default:
			return Decision{}
		}

	case *events.AudioTranscriptDone, *events.TextDelta, *events.TextDone:
		if m.state == Interrupted {
			return Decision{}
		}
		return Decision{Propagate: true}

	case *events.ResponseDone:
		if m.state == Interrupted {
			m.toIdleLocked()
		}
		// Usage payloads pass through even when the turn was canceled.
		return Decision{Propagate: true}

	default:
		return Decision{Propagate: true}
	}
}

// Interrupt moves speaking to interrupted and starts the drain timer.
// Returns false when no assistant turn was in progress.
func (m *Machine) Interrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Speaking {
		return false
	}
	m.state = Interrupted
	m.drainTimer = m.clk.AfterFunc(DrainTimeout, m.drainExpired)
	return true
}

func (m *Machine) drainExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Interrupted {
		m.state = Idle
		m.drainTimer = nil
	}
}

func (m *Machine) toIdleLocked() {
	m.state = Idle
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}
}
