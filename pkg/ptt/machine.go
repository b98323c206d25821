package ptt

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the push-to-talk mode
type State int32

const (
	Idle      State = iota // not transmitting
	Latched                // toggled on by a short press
	Momentary              // held past the threshold
)

// DefaultHoldThreshold separates a tap from a hold
const DefaultHoldThreshold = 200 * time.Millisecond

// String returns the state name
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Latched:
		return "LATCHED"
	case Momentary:
		return "MOMENTARY"
	default:
		return "UNKNOWN"
	}
}

// Transmitting reports whether the state keys the transmitter
func (s State) Transmitting() bool { return s != Idle }

// Listener is notified after every state change
type Listener func(state State, transmitting bool)

// Machine turns button events into a PTT mode. Transitions are serialized;
// State and IsTransmitting are lock-free.
type Machine struct {
	threshold time.Duration

	mu        sync.Mutex
	notifyMu  sync.Mutex
	state     atomic.Int32
	listeners []Listener
}

// NewMachine creates a machine in Idle. A non-positive threshold selects
// the default.
func NewMachine(threshold time.Duration) *Machine {
	if threshold <= 0 {
		threshold = DefaultHoldThreshold
	}
	return &Machine{threshold: threshold}
}

// HandleEvent applies one button event. hold is how long the button has
// been down; it is meaningful for press and release events alike.
func (m *Machine) HandleEvent(pressed bool, hold time.Duration) {
	m.mu.Lock()
	prev := State(m.state.Load())
	next := m.next(prev, pressed, hold)
	if next == prev {
		m.mu.Unlock()
		return
	}
	m.state.Store(int32(next))
	listeners := append([]Listener(nil), m.listeners...)
	m.notifyMu.Lock()
	m.mu.Unlock()

	defer m.notifyMu.Unlock()
	for _, l := range listeners {
		l(next, next.Transmitting())
	}
}

func (m *Machine) next(cur State, pressed bool, hold time.Duration) State {
	switch {
	case cur == Idle && pressed:
		return Latched
	case cur == Latched && pressed && hold >= m.threshold:
		return Momentary
	case cur == Latched && !pressed:
		// Releasing a latch unkeys immediately; there is no
		// stay-latched-after-release toggle.
		return Idle
	case cur == Momentary && !pressed:
		return Idle
	}
	return cur
}

// State returns the current mode
func (m *Machine) State() State { return State(m.state.Load()) }

// IsTransmitting reports whether the current mode keys the transmitter
func (m *Machine) IsTransmitting() bool { return m.State().Transmitting() }

// Subscribe registers a listener for state changes
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Reset forces Idle, notifying listeners if that is a change
func (m *Machine) Reset() {
	m.mu.Lock()
	prev := State(m.state.Swap(int32(Idle)))
	listeners := append([]Listener(nil), m.listeners...)
	m.notifyMu.Lock()
	m.mu.Unlock()

	defer m.notifyMu.Unlock()
	if prev != Idle {
		for _, l := range listeners {
			l(Idle, false)
		}
	}
}
