package button

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/call"
	"github.com/dbehnke/intercom-bridge/pkg/ptt"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func drain(q *Queue) (out []Event) {
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	if !q.Submit(Event{}) || !q.Submit(Event{}) {
		t.Fatal("expected first two submits to succeed")
	}
	if q.Submit(Event{}) {
		t.Fatal("expected third submit to be dropped")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", q.Dropped())
	}
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	q := NewQueue(4)
	q.Submit(Event{Button: PTT, Pressed: true})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, func(ev Event) { got <- ev })
	}()

	select {
	case ev := <-got:
		if ev.Button != PTT || !ev.Pressed {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestTracker_HoldReports(t *testing.T) {
	q := NewQueue(16)
	tr := NewTracker(q, 100*time.Millisecond)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr.now = clk.now

	tr.Press(PTT)
	tr.Press(PTT) // bounce, ignored
	clk.advance(100 * time.Millisecond)
	tr.Poll()
	clk.advance(150 * time.Millisecond)
	tr.Poll()
	tr.Release(PTT)
	tr.Release(PTT) // ignored
	tr.Poll()       // nothing held

	events := drain(q)
	want := []Event{
		{PTT, true, 0},
		{PTT, true, 100 * time.Millisecond},
		{PTT, true, 250 * time.Millisecond},
		{PTT, false, 250 * time.Millisecond},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("[%d] got %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestTracker_ReleaseDuringPollLandsLast(t *testing.T) {
	q := NewQueue(16)
	tr := NewTracker(q, 100*time.Millisecond)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr.now = clk.now

	tr.Press(PTT)
	clk.advance(250 * time.Millisecond)

	// Release while Poll is between reading the held set and queueing
	released := make(chan struct{})
	tr.submit = func(ev Event) bool {
		if ev.Pressed && ev.Hold > 0 {
			go func() {
				tr.Release(PTT)
				close(released)
			}()
			select {
			case <-released:
			case <-time.After(50 * time.Millisecond):
			}
		}
		return q.Submit(ev)
	}
	tr.Poll()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("release never completed")
	}

	events := drain(q)
	if len(events) != 3 {
		t.Fatalf("expected press, hold, release; got %+v", events)
	}
	if last := events[len(events)-1]; last.Pressed {
		t.Fatalf("expected release last, got %+v", events)
	}

	p := ptt.NewMachine(200 * time.Millisecond)
	handle := Route(p, call.NewMachine())
	for _, ev := range events {
		handle(ev)
	}
	if p.State() != ptt.Idle {
		t.Errorf("expected Idle after release, got %v", p.State())
	}
	if tr.Held(PTT) {
		t.Error("expected PTT not held")
	}
}

func TestRoute_DrivesMachines(t *testing.T) {
	p := ptt.NewMachine(200 * time.Millisecond)
	c := call.NewMachine()
	handle := Route(p, c)

	handle(Event{Button: PTT, Pressed: true})
	handle(Event{Button: PTT, Pressed: true, Hold: 250 * time.Millisecond})
	if p.State() != ptt.Momentary {
		t.Fatalf("expected Momentary, got %v", p.State())
	}
	handle(Event{Button: Call, Pressed: true})
	if c.State() != call.Outgoing {
		t.Fatalf("expected Outgoing, got %v", c.State())
	}
	handle(Event{Button: PTT, Pressed: false, Hold: 300 * time.Millisecond})
	handle(Event{Button: Call, Pressed: false})
	if p.State() != ptt.Idle || c.State() != call.Idle {
		t.Fatalf("expected both idle, got %v / %v", p.State(), c.State())
	}
}

func TestParse(t *testing.T) {
	if b, err := Parse("ptt"); err != nil || b != PTT {
		t.Fatalf("ptt: %v %v", b, err)
	}
	if b, err := Parse("call"); err != nil || b != Call {
		t.Fatalf("call: %v %v", b, err)
	}
	if _, err := Parse("volume"); err == nil {
		t.Fatal("expected error for unknown button")
	}
}
