package status

import (
	"context"
	"sync"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/logger"
)

// BatteryReader samples the battery voltage
type BatteryReader interface {
	ReadVolts() (float64, error)
}

// FixedBattery is a BatteryReader returning a constant, for hosts without
// a fuel gauge.
type FixedBattery float64

// ReadVolts implements BatteryReader
func (f FixedBattery) ReadVolts() (float64, error) { return float64(f), nil }

// BatteryThresholds are the voltage breakpoints of the cell
type BatteryThresholds struct {
	Full     float64
	Low      float64
	Critical float64
	Empty    float64
}

// BatteryStatus is one evaluated battery reading
type BatteryStatus struct {
	Volts    float64 `json:"volts"`
	Percent  int     `json:"percent"`
	Low      bool    `json:"low"`
	Critical bool    `json:"critical"`
}

// EvaluateBattery maps a voltage onto a linear percentage and flags
func EvaluateBattery(volts float64, th BatteryThresholds) BatteryStatus {
	st := BatteryStatus{Volts: volts}
	switch {
	case volts >= th.Full:
		st.Percent = 100
	case volts <= th.Empty:
		st.Percent = 0
	default:
		st.Percent = int((volts - th.Empty) / (th.Full - th.Empty) * 100)
	}
	st.Critical = volts <= th.Critical
	st.Low = volts <= th.Low
	return st
}

// BatteryMonitor samples a reader on an interval and keeps the last status
type BatteryMonitor struct {
	reader   BatteryReader
	th       BatteryThresholds
	interval time.Duration
	log      *logger.Logger

	mu   sync.RWMutex
	last BatteryStatus
}

// NewBatteryMonitor creates a monitor and takes a first reading
func NewBatteryMonitor(reader BatteryReader, th BatteryThresholds, interval time.Duration, log *logger.Logger) *BatteryMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &BatteryMonitor{
		reader:   reader,
		th:       th,
		interval: interval,
		log:      log.WithComponent("battery"),
		last:     BatteryStatus{Volts: th.Full, Percent: 100},
	}
	m.Sample()
	return m
}

// Sample reads the battery once. A failed read keeps the last status.
func (m *BatteryMonitor) Sample() BatteryStatus {
	volts, err := m.reader.ReadVolts()
	if err != nil {
		m.log.Warn("Battery read failed", logger.Error(err))
		return m.Status()
	}

	st := EvaluateBattery(volts, m.th)

	m.mu.Lock()
	prev := m.last
	m.last = st
	m.mu.Unlock()

	switch {
	case st.Critical && !prev.Critical:
		m.log.Error("Battery critical", logger.Float64("volts", volts), logger.Int("percent", st.Percent))
	case st.Low && !prev.Low:
		m.log.Warn("Battery low", logger.Float64("volts", volts), logger.Int("percent", st.Percent))
	}
	return st
}

// Status returns the last evaluated reading
func (m *BatteryMonitor) Status() BatteryStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run samples until ctx is done
func (m *BatteryMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sample()
		}
	}
}

// SleepLevel is the deepest power saving mode currently warranted
type SleepLevel string

const (
	Awake      SleepLevel = "awake"
	LightSleep SleepLevel = "light_sleep"
	DeepSleep  SleepLevel = "deep_sleep"
)

// IdleTracker measures time since the last audio or button activity. It
// only recommends a sleep level; entering it is the host's business.
type IdleTracker struct {
	light time.Duration
	deep  time.Duration
	now   func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewIdleTracker creates a tracker that starts active
func NewIdleTracker(light, deep time.Duration) *IdleTracker {
	t := &IdleTracker{light: light, deep: deep, now: time.Now}
	t.last = t.now()
	return t
}

// Touch records activity
func (t *IdleTracker) Touch() {
	now := t.now()
	t.mu.Lock()
	t.last = now
	t.mu.Unlock()
}

// IdleFor returns the time since the last activity
func (t *IdleTracker) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.last)
}

// Level returns the recommended sleep level. A zero threshold disables it.
func (t *IdleTracker) Level() SleepLevel {
	idle := t.IdleFor()
	switch {
	case t.deep > 0 && idle >= t.deep:
		return DeepSleep
	case t.light > 0 && idle >= t.light:
		return LightSleep
	default:
		return Awake
	}
}

// SleepManager performs the host side of a sleep transition
type SleepManager interface {
	Recommend(level SleepLevel)
}

// SleepSink forwards sleep level changes seen in snapshots to a manager
type SleepSink struct {
	m    SleepManager
	mu   sync.Mutex
	last SleepLevel
}

// NewSleepSink creates a sink notifying m
func NewSleepSink(m SleepManager) *SleepSink {
	return &SleepSink{m: m, last: Awake}
}

// PublishSnapshot implements Sink
func (s *SleepSink) PublishSnapshot(snap Snapshot) {
	if snap.Sleep == "" {
		return
	}
	s.mu.Lock()
	changed := snap.Sleep != s.last
	s.last = snap.Sleep
	s.mu.Unlock()

	if changed {
		s.m.Recommend(snap.Sleep)
	}
}

// PublishEvent implements Sink
func (s *SleepSink) PublishEvent(Event) {}
