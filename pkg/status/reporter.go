package status

import (
	"context"
	"sync"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/logger"
)

// Reporter pushes periodic snapshots and immediate events to sinks
type Reporter struct {
	agg      *Aggregator
	interval time.Duration
	log      *logger.Logger

	mu    sync.RWMutex
	sinks []Sink
	last  Snapshot
}

// NewReporter creates a reporter
func NewReporter(agg *Aggregator, interval time.Duration, log *logger.Logger) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{
		agg:      agg,
		interval: interval,
		log:      log.WithComponent("status"),
	}
}

// AddSink registers a sink
func (r *Reporter) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Run publishes a snapshot every interval until ctx is done
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Publish()
		}
	}
}

// Publish takes a snapshot and hands it to every sink
func (r *Reporter) Publish() Snapshot {
	snap := r.agg.Snapshot()

	r.mu.Lock()
	r.last = snap
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()

	for _, s := range sinks {
		s.PublishSnapshot(snap)
	}
	return snap
}

// Notify hands an event to every sink
func (r *Reporter) Notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()

	for _, s := range sinks {
		s.PublishEvent(ev)
	}
}

// Last returns the most recently published snapshot
func (r *Reporter) Last() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// LogSink writes the periodic status line and state changes to the log
type LogSink struct {
	log       *logger.Logger
	lossWarn  float64
	mu        sync.Mutex
	lastLink  LinkState
	lastSleep SleepLevel
}

// NewLogSink creates a log sink that warns above lossWarnPercent
func NewLogSink(log *logger.Logger, lossWarnPercent float64) *LogSink {
	return &LogSink{log: log.WithComponent("status"), lossWarn: lossWarnPercent}
}

// PublishSnapshot implements Sink
func (l *LogSink) PublishSnapshot(s Snapshot) {
	l.mu.Lock()
	linkChanged := s.Link != l.lastLink
	sleepChanged := s.Sleep != l.lastSleep
	l.lastLink = s.Link
	l.lastSleep = s.Sleep
	l.mu.Unlock()

	if linkChanged {
		l.log.Info("Link state changed", logger.String("link", string(s.Link)))
	}
	if sleepChanged && s.Sleep != "" && s.Sleep != Awake {
		l.log.Info("Sleep recommended",
			logger.String("level", string(s.Sleep)),
			logger.Duration("idle", s.IdleFor))
	}

	fields := []logger.Field{
		logger.String("role", s.Role),
		logger.String("link", string(s.Link)),
		logger.String("ptt", s.PTT),
		logger.String("call", s.Call),
		logger.Uint64("tx", s.Transport.PacketsSent),
		logger.Uint64("rx", s.Transport.PacketsReceived),
		logger.Uint64("lost", s.Transport.PacketsLost),
		logger.Float64("loss_pct", s.Transport.LossPercent),
		logger.Duration("uptime", s.Uptime.Truncate(time.Second)),
	}
	if s.Battery != nil {
		fields = append(fields, logger.Int("battery_pct", s.Battery.Percent))
	}
	l.log.Info("Status", fields...)

	if s.Transport.PacketsReceived > 0 && s.Transport.LossPercent > l.lossWarn {
		l.log.Warn("High packet loss", logger.Float64("loss_pct", s.Transport.LossPercent))
	}
}

// PublishEvent implements Sink
func (l *LogSink) PublishEvent(ev Event) {
	switch ev.Type {
	case EventPTT:
		l.log.Info("PTT changed", logger.String("state", ev.PTT), logger.Bool("transmitting", ev.Transmitting))
	case EventCall:
		l.log.Info("Call changed", logger.String("state", ev.Call), logger.Bool("calling", ev.Calling))
	}
}
