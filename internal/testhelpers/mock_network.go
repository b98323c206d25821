package testhelpers

import (
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// MockNetwork is an in-memory datagram network. Connections created with
// Listen implement net.PacketConn, so a Transport can run over it.
type MockNetwork struct {
	mu          sync.RWMutex
	conns       map[string]*MockConn
	sentPackets []MockPacket
	// Drop, when set, decides whether a packet is lost in flight
	Drop func(MockPacket) bool
}

// MockPacket represents a packet sent on the mock network
type MockPacket struct {
	From string
	To   string
	Data []byte
}

// MockAddr is a named endpoint on the mock network
type MockAddr string

// Network implements net.Addr
func (a MockAddr) Network() string { return "mock" }

// String implements net.Addr
func (a MockAddr) String() string { return string(a) }

// NewMockNetwork creates a new mock network
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		conns:       make(map[string]*MockConn),
		sentPackets: make([]MockPacket, 0),
	}
}

// Listen creates an endpoint with the given name
func (n *MockNetwork) Listen(addr string) *MockConn {
	n.mu.Lock()
	defer n.mu.Unlock()

	conn := &MockConn{
		network: n,
		addr:    MockAddr(addr),
		inbox:   make(chan MockPacket, 256),
		closed:  make(chan struct{}),
	}
	n.conns[addr] = conn
	return conn
}

// deliver records a packet and queues it for its destination. Unknown
// destinations behave like a closed port.
func (n *MockNetwork) deliver(packet MockPacket) error {
	n.mu.Lock()
	n.sentPackets = append(n.sentPackets, packet)
	dst, ok := n.conns[packet.To]
	drop := n.Drop
	n.mu.Unlock()

	if !ok {
		return &net.OpError{Op: "write", Net: "mock", Addr: MockAddr(packet.To), Err: syscall.ECONNREFUSED}
	}
	if drop != nil && drop(packet) {
		return nil
	}

	select {
	case dst.inbox <- packet:
	case <-dst.closed:
	default:
		// Buffer full, drop packet
	}
	return nil
}

// GetSentPackets returns all sent packets
func (n *MockNetwork) GetSentPackets() []MockPacket {
	n.mu.RLock()
	defer n.mu.RUnlock()

	packets := make([]MockPacket, len(n.sentPackets))
	copy(packets, n.sentPackets)
	return packets
}

// Close closes every endpoint
func (n *MockNetwork) Close() {
	n.mu.Lock()
	conns := make([]*MockConn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// MockConn is one endpoint on a MockNetwork
type MockConn struct {
	network   *MockNetwork
	addr      MockAddr
	inbox     chan MockPacket
	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	readDeadline time.Time
}

// ReadFrom implements net.PacketConn
func (c *MockConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case packet := <-c.inbox:
		n := copy(p, packet.Data)
		return n, MockAddr(packet.From), nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo implements net.PacketConn
func (c *MockConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	data := make([]byte, len(p))
	copy(data, p)
	if err := c.network.deliver(MockPacket{From: string(c.addr), To: addr.String(), Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Inject queues a raw datagram as if sent from from
func (c *MockConn) Inject(from string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.inbox <- MockPacket{From: from, To: string(c.addr), Data: buf}
}

// Close implements net.PacketConn
func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// LocalAddr implements net.PacketConn
func (c *MockConn) LocalAddr() net.Addr { return c.addr }

// SetDeadline implements net.PacketConn
func (c *MockConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

// SetReadDeadline implements net.PacketConn
func (c *MockConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline implements net.PacketConn
func (c *MockConn) SetWriteDeadline(time.Time) error { return nil }
