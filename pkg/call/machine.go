package call

import (
	"sync"
)

// State is the call signaling state, a function of the local button and
// the remote flag.
type State int

const (
	Idle         State = iota // neither side calling
	Outgoing                  // local only
	Incoming                  // remote only
	Acknowledged              // both
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Outgoing:
		return "OUTGOING"
	case Incoming:
		return "INCOMING"
	case Acknowledged:
		return "ACKNOWLEDGED"
	default:
		return "UNKNOWN"
	}
}

// IsCalling reports whether the local side is signaling
func (s State) IsCalling() bool { return s == Outgoing || s == Acknowledged }

// IsBeingCalled reports whether the remote side is signaling
func (s State) IsBeingCalled() bool { return s == Incoming || s == Acknowledged }

// Resolve maps the two inputs to a state
func Resolve(local, remote bool) State {
	switch {
	case local && remote:
		return Acknowledged
	case local:
		return Outgoing
	case remote:
		return Incoming
	default:
		return Idle
	}
}

// Listener is notified after every state change
type Listener func(state State, calling bool)

// Machine tracks the two call inputs. Listeners run outside the state
// lock but in the order the changes were made.
type Machine struct {
	mu        sync.RWMutex
	notifyMu  sync.Mutex
	local     bool
	remote    bool
	state     State
	listeners []Listener
}

// NewMachine creates a machine in Idle
func NewMachine() *Machine {
	return &Machine{}
}

// SetLocal records the local call button
func (m *Machine) SetLocal(pressed bool) {
	m.update(func() { m.local = pressed })
}

// SetRemote records the call flag from the latest received packet
func (m *Machine) SetRemote(active bool) {
	m.update(func() { m.remote = active })
}

// Clear drops both inputs
func (m *Machine) Clear() {
	m.update(func() {
		m.local = false
		m.remote = false
	})
}

func (m *Machine) update(apply func()) {
	m.mu.Lock()
	apply()
	next := Resolve(m.local, m.remote)
	if next == m.state {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := append([]Listener(nil), m.listeners...)
	m.notifyMu.Lock()
	m.mu.Unlock()

	defer m.notifyMu.Unlock()
	for _, l := range listeners {
		l(next, next.IsCalling())
	}
}

// State returns the current call state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsCalling reports whether the outbound call flag should be set
func (m *Machine) IsCalling() bool { return m.State().IsCalling() }

// IsBeingCalled reports whether the remote side is calling
func (m *Machine) IsBeingCalled() bool { return m.State().IsBeingCalled() }

// Subscribe registers a listener for state changes
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}
