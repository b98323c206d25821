package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/intercom-bridge/internal/testhelpers"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/protocol"
)

type collector struct {
	mu   sync.Mutex
	recv []Received
}

func (c *collector) handle(r Received) {
	c.mu.Lock()
	c.recv = append(c.recv, r)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recv)
}

func (c *collector) all() []Received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Received(nil), c.recv...)
}

func newTestTransport(t *testing.T, conn *testhelpers.MockConn) (*Transport, context.CancelFunc) {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	tr := New(Options{PollInterval: 10 * time.Millisecond}, log).WithConn(conn)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = tr.Start(ctx) }()

	select {
	case <-tr.Ready():
	case <-time.After(time.Second):
		t.Fatal("transport did not start")
	}
	return tr, cancel
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
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

func encode(t *testing.T, seq uint32, payload []byte, ptt, call bool) []byte {
	t.Helper()
	p := &protocol.AudioPacket{Sequence: seq, Payload: payload}
	p.SetFlags(ptt, call)
	data, err := p.Encode(protocol.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestTransport_GapLossAccounting(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	conn := mn.Listen("base")

	tr, cancel := newTestTransport(t, conn)
	defer cancel()

	var c collector
	tr.OnReceive(c.handle)

	for _, seq := range []uint32{0, 1, 2, 5, 6} {
		conn.Inject("pack", encode(t, seq, []byte{1, 2}, true, false))
	}
	waitUntil(t, func() bool { return c.count() == 5 }, "5 packets")

	s := tr.Stats()
	if s.PacketsReceived != 5 {
		t.Errorf("Expected 5 received, got %d", s.PacketsReceived)
	}
	if s.PacketsLost != 2 {
		t.Errorf("Expected 2 lost, got %d", s.PacketsLost)
	}
	if s.BytesReceived != 5*uint64(protocol.HeaderSize+2) {
		t.Errorf("Expected bytes to count whole datagrams, got %d", s.BytesReceived)
	}
	if s.LossPercent < 28.5 || s.LossPercent > 28.6 {
		t.Errorf("Expected loss 2/7 = 28.57%%, got %.2f", s.LossPercent)
	}

	recv := c.all()
	if recv[3].Sequence != 5 || recv[3].Lost != 2 {
		t.Errorf("Expected gap of 2 reported with seq 5, got %+v", recv[3])
	}
	if !recv[0].PTT || recv[0].Call {
		t.Errorf("Flags not delivered: %+v", recv[0])
	}
}

func TestTransport_NoReorderDefense(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	conn := mn.Listen("base")

	tr, cancel := newTestTransport(t, conn)
	defer cancel()

	var c collector
	tr.OnReceive(c.handle)

	// The late 11 rewinds last_sequence; the duplicate 12 is counted again
	for _, seq := range []uint32{10, 12, 11, 12} {
		conn.Inject("pack", encode(t, seq, nil, false, false))
	}
	waitUntil(t, func() bool { return c.count() == 4 }, "4 packets")

	s := tr.Stats()
	if s.PacketsLost != 1 {
		t.Errorf("Expected the 10->12 gap only, got %d lost", s.PacketsLost)
	}
	if s.LastSequence != 12 {
		t.Errorf("Expected last sequence 12, got %d", s.LastSequence)
	}
	if s.PacketsReceived != 4 {
		t.Errorf("Expected duplicates counted as received, got %d", s.PacketsReceived)
	}
}

func TestTransport_MalformedDropped(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	conn := mn.Listen("base")

	tr, cancel := newTestTransport(t, conn)
	defer cancel()

	var c collector
	tr.OnReceive(c.handle)

	conn.Inject("pack", []byte{1, 2, 3})
	conn.Inject("pack", []byte{0, 0, 0, 0, 0, 0, 0, 0, 50, 0, 0, 0, 1})
	conn.Inject("pack", encode(t, 0, []byte{9}, false, false))
	waitUntil(t, func() bool { return c.count() == 1 }, "valid packet")

	s := tr.Stats()
	if s.PacketsMalformed != 2 {
		t.Errorf("Expected 2 malformed, got %d", s.PacketsMalformed)
	}
	if s.PacketsReceived != 1 {
		t.Errorf("Expected 1 received, got %d", s.PacketsReceived)
	}
}

func TestTransport_SendRejectsOversize(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	mn.Listen("pack")

	tr, cancel := newTestTransport(t, mn.Listen("base"))
	defer cancel()
	tr.SetPeer(testhelpers.MockAddr("pack"))

	err := tr.Send(make([]byte, 300), true, false)
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if s := tr.Stats(); s.PacketsSent != 0 || s.SendErrors != 0 {
		t.Fatalf("Oversize send must not touch counters: %+v", s)
	}
	if len(mn.GetSentPackets()) != 0 {
		t.Fatal("Oversize payload reached the network")
	}
}

func TestTransport_SendSequenceAndFlags(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	mn.Listen("pack")

	tr, cancel := newTestTransport(t, mn.Listen("base"))
	defer cancel()
	tr.SetPeer(testhelpers.MockAddr("pack"))

	for i := 0; i < 3; i++ {
		if err := tr.Send([]byte{byte(i)}, true, i == 2); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	sent := mn.GetSentPackets()
	if len(sent) != 3 {
		t.Fatalf("Expected 3 packets, got %d", len(sent))
	}
	for i, raw := range sent {
		p, err := protocol.ParseAudioPacket(raw.Data, protocol.DefaultMaxPayload)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if p.Sequence != uint32(i) {
			t.Errorf("Expected sequence %d, got %d", i, p.Sequence)
		}
		if !p.PTT() || p.Call() != (i == 2) {
			t.Errorf("Unexpected flags on %d: %#x", i, p.Flags)
		}
	}

	s := tr.Stats()
	if s.PacketsSent != 3 || s.BytesSent != 3*uint64(protocol.HeaderSize+1) {
		t.Errorf("Unexpected tx stats %+v", s)
	}
}

func TestTransport_UnreachablePeerIsTransient(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()

	tr, cancel := newTestTransport(t, mn.Listen("base"))
	defer cancel()

	// No peer learned yet
	if err := tr.Send([]byte{1}, true, false); !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("Expected ErrPeerUnreachable without a peer, got %v", err)
	}

	// Peer known but nothing listening
	tr.SetPeer(testhelpers.MockAddr("gone"))
	if err := tr.Send([]byte{1}, true, false); !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("Expected ErrPeerUnreachable for refused send, got %v", err)
	}

	s := tr.Stats()
	if s.PacketsSent != 0 || s.SendErrors != 2 {
		t.Fatalf("Unexpected stats %+v", s)
	}
}

func TestTransport_LearnsPeerFromTraffic(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	conn := mn.Listen("base")
	mn.Listen("pack")

	tr, cancel := newTestTransport(t, conn)
	defer cancel()

	var c collector
	tr.OnReceive(c.handle)
	conn.Inject("pack", encode(t, 0, []byte{1}, false, false))
	waitUntil(t, func() bool { return c.count() == 1 }, "first packet")

	if p := tr.Peer(); p == nil || p.String() != "pack" {
		t.Fatalf("Expected learned peer 'pack', got %v", p)
	}
	if err := tr.Send([]byte{1}, true, false); err != nil {
		t.Fatalf("Send to learned peer failed: %v", err)
	}
}

func TestTransport_SendBeforeStart(t *testing.T) {
	tr := New(Options{}, logger.New(logger.Config{Level: "error"}))
	if err := tr.Send([]byte{1}, false, false); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Expected ErrNotStarted, got %v", err)
	}
}

func TestTransport_ResetStats(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()
	conn := mn.Listen("base")

	tr, cancel := newTestTransport(t, conn)
	defer cancel()

	var c collector
	tr.OnReceive(c.handle)
	conn.Inject("pack", encode(t, 3, nil, false, false))
	conn.Inject("pack", encode(t, 9, nil, false, false))
	waitUntil(t, func() bool { return c.count() == 2 }, "2 packets")

	tr.ResetStats()
	if s := tr.Stats(); s.PacketsReceived != 0 || s.PacketsLost != 0 || s.LossPercent != 0 {
		t.Fatalf("Expected zeroed stats, got %+v", s)
	}

	// First packet after a reset never counts as a gap
	conn.Inject("pack", encode(t, 100, nil, false, false))
	waitUntil(t, func() bool { return c.count() == 3 }, "post-reset packet")
	if s := tr.Stats(); s.PacketsLost != 0 {
		t.Fatalf("Expected no loss after reset, got %d", s.PacketsLost)
	}
}

func TestTransport_StopsOnCancel(t *testing.T) {
	mn := testhelpers.NewMockNetwork()
	defer mn.Close()

	log := logger.New(logger.Config{Level: "error"})
	tr := New(Options{PollInterval: 10 * time.Millisecond}, log).WithConn(mn.Listen("base"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()
	<-tr.Ready()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestLossPercent(t *testing.T) {
	if lossPercent(0, 0) != 0 {
		t.Error("empty should be 0")
	}
	if lossPercent(1, 3) != 25 {
		t.Errorf("expected 25, got %v", lossPercent(1, 3))
	}
}
