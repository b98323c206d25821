package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/intercom-bridge/internal/testhelpers"
	"github.com/dbehnke/intercom-bridge/pkg/button"
	"github.com/dbehnke/intercom-bridge/pkg/call"
	"github.com/dbehnke/intercom-bridge/pkg/config"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/ptt"
	"github.com/dbehnke/intercom-bridge/pkg/status"
)

const (
	baseAddr = "127.0.0.1:5001"
	packAddr = "127.0.0.1:5002"
)

type harness struct {
	t      *testing.T
	node   *Node
	codec  *testhelpers.MockCodec
	source *testhelpers.MockSource
	sink   *testhelpers.MockSink
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, net *testhelpers.MockNetwork, role, addr, peer string, value int16) *harness {
	t.Helper()
	cfg := config.Default(role)
	cfg.Node.PeerAddress = peer
	cfg.Node.PollInterval = 10 * time.Millisecond
	cfg.Status.Interval = 50 * time.Millisecond
	cfg.PTT.HoldRepeatMS = 20

	h := &harness{
		t:      t,
		codec:  &testhelpers.MockCodec{Size: cfg.Audio.FrameSamples()},
		source: &testhelpers.MockSource{Value: value},
		sink:   &testhelpers.MockSink{},
		done:   make(chan error, 1),
	}
	n, err := New(cfg, logger.New(logger.Config{Level: "error"}), Options{
		Codec:  h.codec,
		Source: h.source,
		Sink:   h.sink,
		Conn:   net.Listen(addr),
		BootID: role + "-boot",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.node = n
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.node.Run(ctx) }()

	select {
	case <-h.node.Ready():
	case <-time.After(2 * time.Second):
		h.t.Fatal("node did not start")
	}
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		h.t.Error("node did not stop")
	}
}

// newNetwork registers its Close first so it runs after every node stop
func newNetwork(t *testing.T) *testhelpers.MockNetwork {
	t.Helper()
	net := testhelpers.NewMockNetwork()
	t.Cleanup(net.Close)
	return net
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestNode_IdleSendsNothing(t *testing.T) {
	net := newNetwork(t)

	pack := newHarness(t, net, config.RolePack, packAddr, baseAddr, 100)
	pack.start()

	waitFor(t, func() bool { return pack.source.Reads() >= 5 }, "capture cycles")

	if got := pack.node.TransportStats().PacketsSent; got != 0 {
		t.Errorf("expected no packets while idle, got %d", got)
	}
	if enc, _, _ := pack.codec.Counts(); enc != 0 {
		t.Errorf("expected no encodes while idle, got %d", enc)
	}
}

func TestNode_PackToBaseAudioAndCall(t *testing.T) {
	net := newNetwork(t)

	base := newHarness(t, net, config.RoleBase, baseAddr, "", 0)
	pack := newHarness(t, net, config.RolePack, packAddr, baseAddr, 1234)
	base.start()
	pack.start()

	if !pack.node.Press(button.PTT) || !pack.node.Press(button.Call) {
		t.Fatal("button queue rejected press")
	}
	waitFor(t, pack.node.IsTransmitting, "pack transmitting")

	waitFor(t, func() bool { return len(base.sink.Frames()) >= 3 }, "base playback")
	if f := base.sink.Frames()[0]; f[0] != 1234 {
		t.Errorf("expected decoded sample 1234, got %d", f[0])
	}
	waitFor(t, func() bool { return base.node.CallState() == call.Incoming }, "base incoming call")

	snap := base.node.Snapshot()
	if !snap.RemotePTT || snap.Indicators.PTT != status.LEDOn {
		t.Errorf("base should mirror remote PTT: %+v", snap.Indicators)
	}
	if snap.Link != status.LinkConnected {
		t.Errorf("expected base link connected, got %s", snap.Link)
	}

	// The base answers on the learned peer while keyed
	base.node.Press(button.PTT)
	base.node.Press(button.Call)
	waitFor(t, func() bool { return pack.node.CallState() == call.Acknowledged }, "pack acknowledged")

	pack.node.Release(button.PTT)
	waitFor(t, func() bool { return !pack.node.IsTransmitting() }, "pack released")
	if pack.node.PTTState() != ptt.Idle {
		t.Errorf("expected pack idle, got %s", pack.node.PTTState())
	}
}

func TestNode_SubmitButtonEventAndSubscribe(t *testing.T) {
	net := newNetwork(t)

	pack := newHarness(t, net, config.RolePack, packAddr, baseAddr, 1)

	var mu sync.Mutex
	var states []ptt.State
	pack.node.SubscribePTT(func(s ptt.State, tx bool) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	var calls []call.State
	pack.node.SubscribeCall(func(s call.State, calling bool) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	})

	pack.start()

	pack.node.SubmitButtonEvent(button.Event{Button: button.PTT, Pressed: true})
	pack.node.SubmitButtonEvent(button.Event{Button: button.PTT, Pressed: true, Hold: 250 * time.Millisecond})
	pack.node.SubmitButtonEvent(button.Event{Button: button.PTT, Pressed: false, Hold: 300 * time.Millisecond})
	pack.node.SubmitButtonEvent(button.Event{Button: button.Call, Pressed: true})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3 && len(calls) == 1
	}, "listener notifications")

	mu.Lock()
	defer mu.Unlock()
	want := []ptt.State{ptt.Latched, ptt.Momentary, ptt.Idle}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}
	if calls[0] != call.Outgoing {
		t.Errorf("expected Outgoing, got %s", calls[0])
	}
}

type recordingSink struct {
	mu     sync.Mutex
	snaps  int
	events []status.Event
}

func (r *recordingSink) PublishSnapshot(status.Snapshot) {
	r.mu.Lock()
	r.snaps++
	r.mu.Unlock()
}

func (r *recordingSink) PublishEvent(ev status.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps, len(r.events)
}

func TestNode_SinksAndResetStats(t *testing.T) {
	net := newNetwork(t)

	pack := newHarness(t, net, config.RolePack, packAddr, "127.0.0.1:5999", 7)
	sink := &recordingSink{}
	pack.node.AddSink(sink)
	pack.start()

	pack.node.SetButton(button.PTT, true)
	if !pack.node.ButtonHeld(button.PTT) {
		t.Error("expected PTT held after press")
	}
	waitFor(t, func() bool { return pack.node.AudioStats().FramesEncoded >= 2 }, "encoded frames")

	// Nobody listens at the peer address, so sends fail but the loop goes on
	waitFor(t, func() bool { return pack.node.TransportStats().SendErrors >= 2 }, "send errors")

	waitFor(t, func() bool {
		snaps, events := sink.counts()
		return snaps >= 1 && events >= 1
	}, "sink delivery")

	pack.node.SetButton(button.PTT, false)
	waitFor(t, func() bool { return !pack.node.IsTransmitting() }, "release")
	// let a cycle that passed the gate before release finish
	time.Sleep(2 * pack.node.cfg.Audio.FrameDuration())

	pack.node.ResetStats()
	if st := pack.node.TransportStats(); st.SendErrors != 0 || st.PacketsSent != 0 {
		t.Errorf("expected transport stats reset, got %+v", st)
	}
}

func TestNode_PackCapabilities(t *testing.T) {
	net := newNetwork(t)

	pack := newHarness(t, net, config.RolePack, packAddr, baseAddr, 0)
	snap := pack.node.Snapshot()
	if snap.Sleep != status.Awake {
		t.Errorf("pack should track idle time, got %q", snap.Sleep)
	}
	if snap.Role != config.RolePack || snap.DeviceID != 0x01 || snap.BootID != "pack-boot" {
		t.Errorf("unexpected identity: %+v", snap)
	}

	base := newHarness(t, net, config.RoleBase, baseAddr, "", 0)
	if s := base.node.Snapshot(); s.Sleep != "" || s.Battery != nil {
		t.Errorf("base should have no idle or battery tracking: %+v", s)
	}
}

type fixedSleep struct {
	mu     sync.Mutex
	levels []status.SleepLevel
}

func (f *fixedSleep) Recommend(l status.SleepLevel) {
	f.mu.Lock()
	f.levels = append(f.levels, l)
	f.mu.Unlock()
}

func TestNode_BatteryEnabled(t *testing.T) {
	cfg := config.Default(config.RolePack)
	cfg.Battery.Enabled = true
	net := newNetwork(t)

	n, err := New(cfg, logger.New(logger.Config{Level: "error"}), Options{
		Codec:        &testhelpers.MockCodec{Size: cfg.Audio.FrameSamples()},
		Conn:         net.Listen(packAddr),
		Battery:      status.FixedBattery(3.1),
		SleepManager: &fixedSleep{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	snap := n.Snapshot()
	if snap.Battery == nil || !snap.Battery.Low || snap.Battery.Critical {
		t.Fatalf("expected low battery, got %+v", snap.Battery)
	}
	if snap.Indicators.Power != status.LEDBlinkSlow {
		t.Errorf("expected slow power blink, got %s", snap.Indicators.Power)
	}
}
