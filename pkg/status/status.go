package status

import (
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/call"
	"github.com/dbehnke/intercom-bridge/pkg/network"
	"github.com/dbehnke/intercom-bridge/pkg/ptt"
	"github.com/dbehnke/intercom-bridge/pkg/scheduler"
)

// LinkState describes the audio link as seen from received traffic
type LinkState string

const (
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
)

// Signal is a coarse link quality derived from packet loss
type Signal string

const (
	SignalNone Signal = "none"
	SignalGood Signal = "good"
	SignalPoor Signal = "poor"
)

// Snapshot is the node's full status at one instant
type Snapshot struct {
	Time         time.Time       `json:"time"`
	Role         string          `json:"role"`
	DeviceID     int             `json:"device_id"`
	PairedID     int             `json:"paired_id"`
	BootID       string          `json:"boot_id"`
	Uptime       time.Duration   `json:"uptime_ns"`
	Link         LinkState       `json:"link"`
	Signal       Signal          `json:"signal"`
	PTT          string          `json:"ptt"`
	Transmitting bool            `json:"transmitting"`
	Call         string          `json:"call"`
	Calling      bool            `json:"calling"`
	BeingCalled  bool            `json:"being_called"`
	RemotePTT    bool            `json:"remote_ptt"`
	Transport    network.Stats   `json:"transport"`
	Audio        scheduler.Stats `json:"audio"`
	ButtonDrops  uint64          `json:"button_drops"`
	Battery      *BatteryStatus  `json:"battery,omitempty"`
	IdleFor      time.Duration   `json:"idle_ns,omitempty"`
	Sleep        SleepLevel      `json:"sleep,omitempty"`
	Indicators   Indicators      `json:"indicators"`
}

// EventType names a pushed state change
type EventType string

const (
	EventPTT  EventType = "ptt_changed"
	EventCall EventType = "call_changed"
)

// Event is a single state change pushed to sinks as it happens
type Event struct {
	Type         EventType `json:"type"`
	Time         time.Time `json:"time"`
	PTT          string    `json:"ptt,omitempty"`
	Transmitting bool      `json:"transmitting"`
	Call         string    `json:"call,omitempty"`
	Calling      bool      `json:"calling"`
	// PacketsSent is the transport counter at the moment of the change
	PacketsSent uint64 `json:"packets_sent"`
}

// Sink receives snapshots and events. Implementations must not block.
type Sink interface {
	PublishSnapshot(Snapshot)
	PublishEvent(Event)
}

// Providers are the live components a snapshot is read from. Battery and
// Idle are optional.
type Providers struct {
	PTT       interface{ State() ptt.State }
	Call      interface{ State() call.State }
	Transport interface{ Stats() network.Stats }
	Audio     interface {
		Stats() scheduler.Stats
		RemotePTT() bool
	}
	ButtonDrops func() uint64
	Battery     *BatteryMonitor
	Idle        *IdleTracker
}

// Identity is the static part of a snapshot
type Identity struct {
	Role     string
	DeviceID int
	PairedID int
	BootID   string
}

// Aggregator assembles snapshots from the providers
type Aggregator struct {
	id          Identity
	p           Providers
	linkTimeout time.Duration
	lossWarn    float64
	started     time.Time
	now         func() time.Time
}

// NewAggregator creates an aggregator
func NewAggregator(id Identity, p Providers, linkTimeout time.Duration, lossWarnPercent float64) *Aggregator {
	if linkTimeout <= 0 {
		linkTimeout = 2 * time.Second
	}
	return &Aggregator{
		id:          id,
		p:           p,
		linkTimeout: linkTimeout,
		lossWarn:    lossWarnPercent,
		started:     time.Now(),
		now:         time.Now,
	}
}

// Snapshot reads every provider and derives link state and indicators
func (a *Aggregator) Snapshot() Snapshot {
	now := a.now()
	pttState := a.p.PTT.State()
	callState := a.p.Call.State()
	tstats := a.p.Transport.Stats()

	s := Snapshot{
		Time:         now,
		Role:         a.id.Role,
		DeviceID:     a.id.DeviceID,
		PairedID:     a.id.PairedID,
		BootID:       a.id.BootID,
		Uptime:       now.Sub(a.started),
		PTT:          pttState.String(),
		Transmitting: pttState.Transmitting(),
		Call:         callState.String(),
		Calling:      callState.IsCalling(),
		BeingCalled:  callState.IsBeingCalled(),
		Transport:    tstats,
	}
	if a.p.Audio != nil {
		s.Audio = a.p.Audio.Stats()
		s.RemotePTT = a.p.Audio.RemotePTT()
	}
	if a.p.ButtonDrops != nil {
		s.ButtonDrops = a.p.ButtonDrops()
	}

	s.Link = a.linkState(tstats, now)
	s.Signal = a.signal(s.Link, tstats.LossPercent)

	if a.p.Battery != nil {
		b := a.p.Battery.Status()
		s.Battery = &b
	}
	if a.p.Idle != nil {
		s.IdleFor = a.p.Idle.IdleFor()
		s.Sleep = a.p.Idle.Level()
	}

	s.Indicators = Indicate(s)
	return s
}

func (a *Aggregator) linkState(st network.Stats, now time.Time) LinkState {
	if st.PacketsReceived == 0 || st.LastReceived.IsZero() {
		return LinkConnecting
	}
	if now.Sub(st.LastReceived) > a.linkTimeout {
		return LinkDisconnected
	}
	return LinkConnected
}

func (a *Aggregator) signal(link LinkState, loss float64) Signal {
	if link != LinkConnected {
		return SignalNone
	}
	if loss < a.lossWarn {
		return SignalGood
	}
	return SignalPoor
}
