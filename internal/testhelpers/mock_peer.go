package testhelpers

import (
	"net"
	"sync"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/protocol"
)

// MockPeer is a scripted remote node speaking the audio packet format over
// real UDP. It lets tests choose sequence numbers and flags directly.
type MockPeer struct {
	conn    *net.UDPConn
	mu      sync.RWMutex
	nextSeq uint32
	packets []*protocol.AudioPacket
	closed  bool
}

// NewMockPeer creates a new mock peer
func NewMockPeer() *MockPeer {
	return &MockPeer{packets: make([]*protocol.AudioPacket, 0)}
}

// Connect points the mock peer at a node's address
func (m *MockPeer) Connect(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return err
	}
	m.conn = conn
	return nil
}

// LocalAddr returns the peer's own address, or "" before Connect
func (m *MockPeer) LocalAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.LocalAddr().String()
}

// SendAudio sends one packet with an explicit sequence number
func (m *MockPeer) SendAudio(seq uint32, payload []byte, ptt, call bool) error {
	packet := &protocol.AudioPacket{Sequence: seq, Payload: payload}
	packet.SetFlags(ptt, call)
	data, err := packet.Encode(protocol.DefaultMaxPayload)
	if err != nil {
		return err
	}
	return m.SendRaw(data)
}

// SendNext sends one packet with the next sequence number
func (m *MockPeer) SendNext(payload []byte, ptt, call bool) error {
	m.mu.Lock()
	seq := m.nextSeq
	m.nextSeq++
	m.mu.Unlock()
	return m.SendAudio(seq, payload, ptt, call)
}

// SendRaw sends arbitrary bytes
func (m *MockPeer) SendRaw(data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil
	}
	_, err := m.conn.Write(data)
	return err
}

// ReceivePacket waits for one audio packet from the node
func (m *MockPeer) ReceivePacket(timeout time.Duration) (*protocol.AudioPacket, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, protocol.MaxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	packet, err := protocol.ParseAudioPacket(buf[:n], protocol.DefaultMaxPayload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.packets = append(m.packets, packet)
	m.mu.Unlock()

	return packet, nil
}

// GetReceivedPackets returns all received packets
func (m *MockPeer) GetReceivedPackets() []*protocol.AudioPacket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	packets := make([]*protocol.AudioPacket, len(m.packets))
	copy(packets, m.packets)
	return packets
}

// Close closes the mock peer connection
func (m *MockPeer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
