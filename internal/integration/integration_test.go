//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dbehnke/intercom-bridge/internal/testhelpers"
	"github.com/dbehnke/intercom-bridge/pkg/button"
	"github.com/dbehnke/intercom-bridge/pkg/call"
	"github.com/dbehnke/intercom-bridge/pkg/config"
	"github.com/dbehnke/intercom-bridge/pkg/metrics"
	"github.com/dbehnke/intercom-bridge/pkg/node"
	"github.com/dbehnke/intercom-bridge/pkg/status"
)

type runningNode struct {
	*node.Node
	sink *testhelpers.MockSink
	done chan error
}

func startNode(t *testing.T, suite *testhelpers.IntegrationSuite, cfg *config.Config, value int16) *runningNode {
	t.Helper()
	sink := &testhelpers.MockSink{}
	n, err := node.New(cfg, suite.Logger, node.Options{
		Codec:  &testhelpers.MockCodec{Size: cfg.Audio.FrameSamples()},
		Source: &testhelpers.MockSource{Value: value},
		Sink:   sink,
	})
	if err != nil {
		t.Fatalf("Failed to create %s node: %v", cfg.Node.Role, err)
	}

	rn := &runningNode{Node: n, sink: sink, done: make(chan error, 1)}
	go func() { rn.done <- n.Run(suite.Ctx) }()

	select {
	case <-n.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s node did not bind", cfg.Node.Role)
	}
	return rn
}

func (rn *runningNode) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-rn.done:
		if err != nil {
			t.Errorf("Node returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Error("Node did not stop")
	}
}

// TestBaseAndPackOverLoopback runs both ends over real UDP
func TestBaseAndPackOverLoopback(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	basePort := suite.GetFreeUDPPort()
	packPort := suite.GetFreeUDPPort()

	base := startNode(t, suite, testhelpers.CreateNodeConfig(config.RoleBase, basePort, 0), 0)
	pack := startNode(t, suite, testhelpers.CreateNodeConfig(config.RolePack, packPort, basePort), 2000)

	collector := metrics.NewCollector()
	base.AddSink(collector)

	pack.Press(button.PTT)
	pack.Press(button.Call)

	suite.AssertEventually(func() bool { return len(base.sink.Frames()) >= 5 }, 2*time.Second, "base should play pack audio")
	suite.AssertEventually(func() bool { return base.CallState() == call.Incoming }, 2*time.Second, "base should be called")
	suite.AssertEventually(func() bool { return base.Snapshot().Link == status.LinkConnected }, 2*time.Second, "base link should come up")

	if f := base.sink.Frames(); len(f) > 0 && f[0][0] != 2000 {
		t.Errorf("Expected sample 2000 at the base, got %d", f[0][0])
	}

	// Answer from the base on the address it learned
	base.Press(button.PTT)
	base.Press(button.Call)
	suite.AssertEventually(func() bool { return pack.CallState() == call.Acknowledged }, 2*time.Second, "pack call should be acknowledged")
	suite.AssertEventually(func() bool { return len(pack.sink.Frames()) >= 3 }, 2*time.Second, "pack should play base audio")

	pack.Release(button.PTT)
	pack.Release(button.Call)
	base.Release(button.PTT)
	base.Release(button.Call)
	suite.AssertEventually(func() bool {
		return !pack.IsTransmitting() && !base.IsTransmitting()
	}, 2*time.Second, "both ends should unkey")

	st := base.TransportStats()
	if st.PacketsLost != 0 || st.PacketsMalformed != 0 {
		t.Errorf("Expected clean loopback link, got %+v", st)
	}

	base.PublishStatus()
	if got := collector.LastSnapshot().Transport.PacketsReceived; got == 0 {
		t.Error("Expected metrics to see received packets")
	}

	suite.Cancel()
	base.wait(t)
	pack.wait(t)
}

// TestBaseLossAccountingWithMockPeer drives the base from a scripted peer
func TestBaseLossAccountingWithMockPeer(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	basePort := suite.GetFreeUDPPort()
	base := startNode(t, suite, testhelpers.CreateNodeConfig(config.RoleBase, basePort, 0), 300)

	peer := suite.CreateMockPeer()
	if err := peer.Connect(fmt.Sprintf("127.0.0.1:%d", basePort)); err != nil {
		t.Fatalf("Failed to connect mock peer: %v", err)
	}

	payload := []byte{0x10, 0x00}
	for _, seq := range []uint32{0, 1, 4} {
		if err := peer.SendAudio(seq, payload, true, false); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := peer.SendRaw([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	suite.AssertEventually(func() bool {
		st := base.TransportStats()
		return st.PacketsReceived == 3 && st.PacketsMalformed == 1
	}, 2*time.Second, "base should count received and malformed packets")

	st := base.TransportStats()
	if st.PacketsLost != 2 {
		t.Errorf("Expected 2 lost packets, got %d", st.PacketsLost)
	}
	if st.LastSequence != 4 {
		t.Errorf("Expected last sequence 4, got %d", st.LastSequence)
	}
	// Two decoded, two concealed for the gap, then the late frame
	if got := len(base.sink.Frames()); got != 5 {
		t.Errorf("Expected 5 played frames, got %d", got)
	}
	if !base.Snapshot().RemotePTT {
		t.Error("Expected remote PTT from peer flags")
	}

	base.Press(button.PTT)
	packet, err := peer.ReceivePacket(2 * time.Second)
	if err != nil {
		t.Fatalf("Expected a packet back from the base: %v", err)
	}
	if !packet.PTT() || packet.Call() {
		t.Errorf("Unexpected flags on base packet: %#x", packet.Flags)
	}
	if len(packet.Payload) != 2 || packet.Payload[0] != 0x2c || packet.Payload[1] != 0x01 {
		t.Errorf("Unexpected payload %v", packet.Payload)
	}
	base.Release(button.PTT)

	suite.Cancel()
	base.wait(t)
}

// TestNodeStopsOnCancel checks a node with no traffic shuts down cleanly
func TestNodeStopsOnCancel(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	cfg := testhelpers.CreateNodeConfig(config.RolePack, suite.GetFreeUDPPort(), suite.GetFreeUDPPort())
	pack := startNode(t, suite, cfg, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	<-ctx.Done()

	if pack.TransportStats().PacketsSent != 0 {
		t.Error("Idle pack should not send")
	}
	suite.Cancel()
	pack.wait(t)
}
