package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/protocol"
)

var (
	// ErrNotStarted is returned by Send before the socket is bound
	ErrNotStarted = errors.New("transport not started")
	// ErrPeerUnreachable is returned when no peer is known or the network
	// reports it unreachable. It is transient.
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// Options configures a Transport
type Options struct {
	BindAddress string
	Port        int
	// PeerAddress is the static host:port to send to. When empty the
	// transport replies to whoever last sent it a valid packet.
	PeerAddress string
	// LearnPeer lets a received packet update the destination even when a
	// static peer is configured.
	LearnPeer    bool
	MaxPayload   int
	PollInterval time.Duration
}

// Received is one inbound audio frame with its flags
type Received struct {
	Sequence  uint32
	Timestamp uint32
	Payload   []byte
	PTT       bool
	Call      bool
	// Lost is the number of packets missing just before this one
	Lost uint32
	From net.Addr
}

// Stats is a consistent copy of the transport counters
type Stats struct {
	PacketsSent      uint64    `json:"packets_sent"`
	BytesSent        uint64    `json:"bytes_sent"`
	SendErrors       uint64    `json:"send_errors"`
	PacketsReceived  uint64    `json:"packets_received"`
	PacketsLost      uint64    `json:"packets_lost"`
	PacketsMalformed uint64    `json:"packets_malformed"`
	BytesReceived    uint64    `json:"bytes_received"`
	LossPercent      float64   `json:"loss_percent"`
	LastSequence     uint32    `json:"last_sequence"`
	LastReceived     time.Time `json:"last_received"`
}

// txState is owned by the send path
type txState struct {
	nextSeq     uint32
	packetsSent uint64
	bytesSent   uint64
	sendErrors  uint64
}

// rxState is owned by the receive loop
type rxState struct {
	haveLast     bool
	lastSeq      uint32
	received     uint64
	lost         uint64
	malformed    uint64
	bytes        uint64
	lossPercent  float64
	lastReceived time.Time
}

// Transport carries audio packets over UDP to a single peer
type Transport struct {
	opts Options
	log  *logger.Logger

	conn  net.PacketConn
	start time.Time
	// started is closed once the socket is bound and ready
	started   chan struct{}
	startOnce sync.Once

	peerMu sync.RWMutex
	peer   net.Addr

	txMu sync.Mutex
	tx   txState

	rxMu sync.Mutex
	rx   rxState

	handler   func(Received)
	handlerMu sync.RWMutex
}

// New creates a transport. The socket is bound by Start unless one is
// injected with WithConn.
func New(opts Options, log *logger.Logger) *Transport {
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = protocol.DefaultMaxPayload
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Transport{
		opts:    opts,
		log:     log.WithComponent("network.transport"),
		started: make(chan struct{}),
	}
}

// WithConn injects an already-open packet connection
func (t *Transport) WithConn(conn net.PacketConn) *Transport {
	t.conn = conn
	return t
}

// OnReceive sets the handler for received frames
func (t *Transport) OnReceive(handler func(Received)) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

// Ready returns a channel closed once the socket is bound
func (t *Transport) Ready() <-chan struct{} { return t.started }

// LocalAddr returns the bound address, or nil before Start
func (t *Transport) LocalAddr() net.Addr {
	select {
	case <-t.started:
		return t.conn.LocalAddr()
	default:
		return nil
	}
}

// Peer returns the current destination, or nil if none is known
func (t *Transport) Peer() net.Addr {
	t.peerMu.RLock()
	defer t.peerMu.RUnlock()
	return t.peer
}

// SetPeer replaces the destination
func (t *Transport) SetPeer(addr net.Addr) {
	t.peerMu.Lock()
	t.peer = addr
	t.peerMu.Unlock()
}

// Start binds the socket and runs the receive loop until ctx is done
func (t *Transport) Start(ctx context.Context) error {
	if t.opts.PeerAddress != "" {
		addr, err := net.ResolveUDPAddr("udp", t.opts.PeerAddress)
		if err != nil {
			return fmt.Errorf("failed to resolve peer address: %w", err)
		}
		t.SetPeer(addr)
	}

	if t.conn == nil {
		localAddr := &net.UDPAddr{
			IP:   net.ParseIP(t.opts.BindAddress),
			Port: t.opts.Port,
		}
		conn, err := net.ListenUDP("udp", localAddr)
		if err != nil {
			return fmt.Errorf("failed to create UDP connection: %w", err)
		}
		t.conn = conn
	}
	defer t.conn.Close()

	t.start = time.Now()
	t.ResetStats()
	t.startOnce.Do(func() { close(t.started) })

	peer := "learned"
	if p := t.Peer(); p != nil {
		peer = p.String()
	}
	t.log.Info("Transport started",
		logger.String("local", t.conn.LocalAddr().String()),
		logger.String("peer", peer))

	return t.receiveLoop(ctx)
}

// Send frames payload with the next sequence number and the two flags
func (t *Transport) Send(payload []byte, ptt, call bool) error {
	if len(payload) > t.opts.MaxPayload {
		return fmt.Errorf("%w: %d > %d", protocol.ErrPayloadTooLarge, len(payload), t.opts.MaxPayload)
	}

	select {
	case <-t.started:
	default:
		return ErrNotStarted
	}

	peer := t.Peer()

	t.txMu.Lock()
	defer t.txMu.Unlock()

	packet := &protocol.AudioPacket{
		Sequence:  t.tx.nextSeq,
		Timestamp: uint32(time.Since(t.start).Microseconds()),
		Payload:   payload,
	}
	packet.SetFlags(ptt, call)
	t.tx.nextSeq++

	if peer == nil {
		t.tx.sendErrors++
		return ErrPeerUnreachable
	}

	data, err := packet.Encode(t.opts.MaxPayload)
	if err != nil {
		return fmt.Errorf("failed to encode audio packet: %w", err)
	}

	if _, err := t.conn.WriteTo(data, peer); err != nil {
		t.tx.sendErrors++
		if isUnreachable(err) {
			t.log.Debug("Peer unreachable", logger.String("peer", peer.String()))
			return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
		}
		return fmt.Errorf("failed to send audio packet: %w", err)
	}

	t.tx.packetsSent++
	t.tx.bytesSent += uint64(len(data))
	return nil
}

// receiveLoop continuously receives and processes packets
func (t *Transport) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, protocol.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Set read deadline to allow context checking
		_ = t.conn.SetReadDeadline(time.Now().Add(t.opts.PollInterval))
		n, addr, err := t.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read error: %w", err)
		}

		t.handleDatagram(buffer[:n], addr)
	}
}

// handleDatagram validates one datagram, accounts for it and hands it on
func (t *Transport) handleDatagram(data []byte, from net.Addr) {
	packet, err := protocol.ParseAudioPacket(data, t.opts.MaxPayload)
	if err != nil {
		t.rxMu.Lock()
		t.rx.malformed++
		t.rxMu.Unlock()
		src := ""
		if from != nil {
			src = from.String()
		}
		t.log.Warn("Dropping malformed packet",
			logger.String("from", src),
			logger.Int("size", len(data)),
			logger.Error(err))
		return
	}

	t.learnPeer(from)

	t.rxMu.Lock()
	var gap uint32
	if t.rx.haveLast && packet.Sequence > t.rx.lastSeq+1 {
		gap = packet.Sequence - (t.rx.lastSeq + 1)
		t.rx.lost += uint64(gap)
	}
	t.rx.received++
	t.rx.bytes += uint64(len(data))
	t.rx.lastSeq = packet.Sequence
	t.rx.haveLast = true
	t.rx.lastReceived = time.Now()
	t.rx.lossPercent = lossPercent(t.rx.lost, t.rx.received)
	t.rxMu.Unlock()

	if gap > 0 {
		t.log.Debug("Sequence gap",
			logger.Uint32("seq", packet.Sequence),
			logger.Uint32("lost", gap))
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()

	if handler != nil {
		handler(Received{
			Sequence:  packet.Sequence,
			Timestamp: packet.Timestamp,
			Payload:   packet.Payload,
			PTT:       packet.PTT(),
			Call:      packet.Call(),
			Lost:      gap,
			From:      from,
		})
	}
}

// learnPeer points replies at the sender when no static peer pins them
func (t *Transport) learnPeer(from net.Addr) {
	if from == nil || (t.opts.PeerAddress != "" && !t.opts.LearnPeer) {
		return
	}

	t.peerMu.Lock()
	changed := t.peer == nil || t.peer.String() != from.String()
	if changed {
		t.peer = from
	}
	t.peerMu.Unlock()

	if changed {
		t.log.Info("Peer address learned", logger.String("peer", from.String()))
	}
}

// Stats returns a snapshot of both counter halves
func (t *Transport) Stats() Stats {
	t.txMu.Lock()
	tx := t.tx
	t.txMu.Unlock()

	t.rxMu.Lock()
	rx := t.rx
	t.rxMu.Unlock()

	return Stats{
		PacketsSent:      tx.packetsSent,
		BytesSent:        tx.bytesSent,
		SendErrors:       tx.sendErrors,
		PacketsReceived:  rx.received,
		PacketsLost:      rx.lost,
		PacketsMalformed: rx.malformed,
		BytesReceived:    rx.bytes,
		LossPercent:      rx.lossPercent,
		LastSequence:     rx.lastSeq,
		LastReceived:     rx.lastReceived,
	}
}

// ResetStats zeroes the counters and forgets the last received sequence.
// The outbound sequence keeps counting.
func (t *Transport) ResetStats() {
	t.txMu.Lock()
	seq := t.tx.nextSeq
	t.tx = txState{nextSeq: seq}
	t.txMu.Unlock()

	t.rxMu.Lock()
	t.rx = rxState{}
	t.rxMu.Unlock()
}

func lossPercent(lost, received uint64) float64 {
	total := lost + received
	if total == 0 {
		return 0
	}
	return float64(lost) / float64(total) * 100
}

func isUnreachable(err error) bool {
	return errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
