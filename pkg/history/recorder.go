// Package history records talk bursts, call changes and link quality to the
// local database. Audio is never stored.
package history

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/database"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/status"
	"github.com/google/uuid"
)

const (
	defaultQueueSize = 128
	sweepInterval    = time.Hour
)

// Options configures a Recorder
type Options struct {
	Role      string
	DeviceID  int
	BootID    string
	MinBurst  time.Duration
	Retention time.Duration
	QueueSize int
}

type item struct {
	snap *status.Snapshot
	ev   *status.Event
}

// openBurst tracks the transmission in progress
type openBurst struct {
	sessionID   string
	start       time.Time
	mode        string
	packetsSent uint64
}

// Recorder implements status.Sink and writes history on its own goroutine
type Recorder struct {
	db   *database.DB
	opts Options
	log  *logger.Logger

	queue   chan item
	dropped atomic.Uint64

	// owned by the Run goroutine
	burst    *openBurst
	lastSent uint64 // transport packets_sent from the latest event or snapshot
}

// NewRecorder creates a recorder writing to db
func NewRecorder(db *database.DB, opts Options, log *logger.Logger) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Recorder{
		db:    db,
		opts:  opts,
		log:   log.WithComponent("history"),
		queue: make(chan item, opts.QueueSize),
	}
}

// PublishSnapshot implements status.Sink
func (r *Recorder) PublishSnapshot(s status.Snapshot) {
	r.enqueue(item{snap: &s})
}

// PublishEvent implements status.Sink
func (r *Recorder) PublishEvent(ev status.Event) {
	r.enqueue(item{ev: &ev})
}

func (r *Recorder) enqueue(it item) {
	select {
	case r.queue <- it:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn("History queue full, dropping records")
		}
	}
}

// Dropped returns how many records were discarded on a full queue
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued records and sweeps old history until ctx is done. An
// open burst is closed at shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	r.sweep(time.Now())

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			if r.burst != nil {
				r.closeBurst(time.Now(), r.lastSent)
			}
			return ctx.Err()
		case it := <-r.queue:
			r.handle(it)
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case it := <-r.queue:
			r.handle(it)
		default:
			return
		}
	}
}

func (r *Recorder) handle(it item) {
	switch {
	case it.ev != nil:
		r.handleEvent(*it.ev)
	case it.snap != nil:
		r.recordSample(*it.snap)
	}
}

func (r *Recorder) handleEvent(ev status.Event) {
	switch ev.Type {
	case status.EventPTT:
		r.handlePTT(ev)
	case status.EventCall:
		e := &database.CallEvent{
			BootID:  r.opts.BootID,
			Role:    r.opts.Role,
			State:   ev.Call,
			Calling: ev.Calling,
			Time:    ev.Time,
		}
		if err := r.db.Calls().Create(e); err != nil {
			r.log.Error("Failed to save call event", logger.Error(err))
		}
	}
}

func (r *Recorder) handlePTT(ev status.Event) {
	r.lastSent = ev.PacketsSent
	switch {
	case ev.Transmitting && r.burst == nil:
		r.burst = &openBurst{
			sessionID:   uuid.NewString(),
			start:       ev.Time,
			mode:        ev.PTT,
			packetsSent: ev.PacketsSent,
		}
		r.log.Debug("Talk burst started", logger.String("session_id", r.burst.sessionID))
	case ev.Transmitting:
		// Latched can deepen into momentary within one burst
		r.burst.mode = ev.PTT
	case r.burst != nil:
		r.closeBurst(ev.Time, ev.PacketsSent)
	}
}

func (r *Recorder) closeBurst(end time.Time, packetsSent uint64) {
	b := r.burst
	r.burst = nil

	d := end.Sub(b.start)
	if d < r.opts.MinBurst {
		r.log.Debug("Skipped short talk burst",
			logger.String("session_id", b.sessionID),
			logger.Duration("duration", d))
		return
	}

	var sent uint64
	if packetsSent >= b.packetsSent {
		sent = packetsSent - b.packetsSent
	}

	rec := &database.TalkBurst{
		SessionID:   b.sessionID,
		BootID:      r.opts.BootID,
		Role:        r.opts.Role,
		DeviceID:    r.opts.DeviceID,
		Mode:        b.mode,
		Duration:    d.Seconds(),
		StartTime:   b.start,
		EndTime:     end,
		PacketsSent: sent,
	}
	if err := r.db.Bursts().Create(rec); err != nil {
		r.log.Error("Failed to save talk burst", logger.Error(err), logger.String("session_id", b.sessionID))
		return
	}
	r.log.Debug("Saved talk burst",
		logger.String("session_id", b.sessionID),
		logger.Duration("duration", d),
		logger.Uint64("packets", sent))
}

func (r *Recorder) recordSample(s status.Snapshot) {
	r.lastSent = s.Transport.PacketsSent
	sample := &database.LinkSample{
		BootID:          r.opts.BootID,
		Link:            string(s.Link),
		Signal:          string(s.Signal),
		PacketsReceived: s.Transport.PacketsReceived,
		PacketsLost:     s.Transport.PacketsLost,
		LossPercent:     s.Transport.LossPercent,
		Time:            s.Time,
	}
	if s.Battery != nil {
		pct := s.Battery.Percent
		sample.BatteryPercent = &pct
	}
	if err := r.db.Links().Create(sample); err != nil {
		r.log.Error("Failed to save link sample", logger.Error(err))
	}
}

func (r *Recorder) sweep(now time.Time) {
	if r.opts.Retention <= 0 {
		return
	}
	n, err := r.db.Prune(now.Add(-r.opts.Retention))
	if err != nil {
		r.log.Error("History retention sweep failed", logger.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("Pruned history", logger.Int64("rows", n))
	}
}
