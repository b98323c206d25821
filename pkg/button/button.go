package button

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/call"
	"github.com/dbehnke/intercom-bridge/pkg/ptt"
)

// Button identifies a physical control
type Button int

const (
	PTT Button = iota
	Call
)

// String returns the button name
func (b Button) String() string {
	switch b {
	case PTT:
		return "ptt"
	case Call:
		return "call"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

// Parse maps a name to a button
func Parse(name string) (Button, error) {
	switch name {
	case "ptt":
		return PTT, nil
	case "call":
		return Call, nil
	}
	return 0, fmt.Errorf("unknown button %q", name)
}

// Event is one debounced button edge or hold report
type Event struct {
	Button  Button
	Pressed bool
	Hold    time.Duration // time since the press began
}

// Queue decouples edge producers from the state machines. Submit never
// blocks; a full queue drops the event.
type Queue struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to size pending events
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 32
	}
	return &Queue{ch: make(chan Event, size)}
}

// Submit enqueues an event, reporting false if it was dropped
func (q *Queue) Submit(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events lost to a full queue
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Run delivers queued events to handler on the calling goroutine until
// ctx is done.
func (q *Queue) Run(ctx context.Context, handler func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-q.ch:
			handler(ev)
		}
	}
}

// Route returns a handler that drives the PTT and call machines
func Route(p *ptt.Machine, c *call.Machine) func(Event) {
	return func(ev Event) {
		switch ev.Button {
		case PTT:
			p.HandleEvent(ev.Pressed, ev.Hold)
		case Call:
			c.SetLocal(ev.Pressed)
		}
	}
}

// Tracker turns raw press and release edges into events and re-reports
// held buttons at a fixed interval so the hold threshold can be crossed
// without another edge.
type Tracker struct {
	repeat time.Duration
	now    func() time.Time
	submit func(Event) bool

	mu   sync.Mutex
	down map[Button]time.Time
}

// NewTracker creates a tracker feeding queue
func NewTracker(queue *Queue, repeat time.Duration) *Tracker {
	if repeat <= 0 {
		repeat = 100 * time.Millisecond
	}
	return &Tracker{
		repeat: repeat,
		now:    time.Now,
		submit: queue.Submit,
		down:   make(map[Button]time.Time),
	}
}

// Press records a press edge. Repeated presses without a release are ignored.
func (t *Tracker) Press(b Button) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.down[b]; held {
		return true
	}
	t.down[b] = t.now()
	return t.submit(Event{Button: b, Pressed: true})
}

// Release records a release edge
func (t *Tracker) Release(b Button) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, held := t.down[b]
	if !held {
		return true
	}
	delete(t.down, b)
	return t.submit(Event{Button: b, Pressed: false, Hold: t.now().Sub(start)})
}

// Set applies an edge given as a boolean
func (t *Tracker) Set(b Button, pressed bool) bool {
	if pressed {
		return t.Press(b)
	}
	return t.Release(b)
}

// Held reports whether b is currently down
func (t *Tracker) Held(b Button) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, held := t.down[b]
	return held
}

// Poll reports every held button with its current hold time. Events are
// queued under the lock so a concurrent release always lands after them.
func (t *Tracker) Poll() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for b, start := range t.down {
		t.submit(Event{Button: b, Pressed: true, Hold: now.Sub(start)})
	}
}

// Run polls held buttons every repeat interval until ctx is done
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.repeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Poll()
		}
	}
}
