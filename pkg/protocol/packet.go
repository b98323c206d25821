package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Audio packet layout (little-endian)
const (
	HeaderSize        = 12  // seq + timestamp + size + flags + reserved
	DefaultMaxPayload = 256 // largest encoded frame carried in one datagram
	MaxDatagramSize   = 512 // receive buffer size

	OffsetSequence  = 0  // 4 bytes: sequence number
	OffsetTimestamp = 4  // 4 bytes: sender clock in microseconds
	OffsetSize      = 8  // 2 bytes: encoded payload length
	OffsetFlags     = 10 // 1 byte: PTT / call bits
	OffsetReserved  = 11 // 1 byte: zero on send, ignored on receive
	OffsetPayload   = 12
)

// Flag bits
const (
	FlagPTT  byte = 1 << 0 // sender is transmitting
	FlagCall byte = 1 << 1 // sender is signaling a call
)

var (
	// ErrShortPacket is returned for datagrams smaller than a header
	ErrShortPacket = errors.New("packet shorter than header")
	// ErrTruncatedPayload is returned when the declared size exceeds the bytes present
	ErrTruncatedPayload = errors.New("payload truncated")
	// ErrPayloadTooLarge is returned when a payload exceeds the maximum
	ErrPayloadTooLarge = errors.New("payload too large")
)

// AudioPacket is one encoded voice frame plus its header
type AudioPacket struct {
	Sequence  uint32
	Timestamp uint32
	Flags     byte
	Payload   []byte
}

// PTT reports whether the PTT flag is set
func (p *AudioPacket) PTT() bool { return p.Flags&FlagPTT != 0 }

// Call reports whether the call flag is set
func (p *AudioPacket) Call() bool { return p.Flags&FlagCall != 0 }

// SetFlags replaces the flag byte from the two booleans
func (p *AudioPacket) SetFlags(ptt, call bool) {
	p.Flags = 0
	if ptt {
		p.Flags |= FlagPTT
	}
	if call {
		p.Flags |= FlagCall
	}
}

// Encode serializes the packet. Payloads above maxPayload are rejected,
// never truncated.
func (p *AudioPacket) Encode(maxPayload int) ([]byte, error) {
	if len(p.Payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(p.Payload), maxPayload)
	}

	data := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(data[OffsetSequence:], p.Sequence)
	binary.LittleEndian.PutUint32(data[OffsetTimestamp:], p.Timestamp)
	binary.LittleEndian.PutUint16(data[OffsetSize:], uint16(len(p.Payload)))
	data[OffsetFlags] = p.Flags
	data[OffsetReserved] = 0
	copy(data[OffsetPayload:], p.Payload)

	return data, nil
}

// Parse decodes a datagram into the packet. Trailing bytes beyond the
// declared payload size are ignored.
func (p *AudioPacket) Parse(data []byte, maxPayload int) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}

	size := int(binary.LittleEndian.Uint16(data[OffsetSize:]))
	if size > maxPayload {
		return fmt.Errorf("%w: declared %d > %d", ErrPayloadTooLarge, size, maxPayload)
	}
	if size > len(data)-HeaderSize {
		return fmt.Errorf("%w: declared %d, have %d", ErrTruncatedPayload, size, len(data)-HeaderSize)
	}

	p.Sequence = binary.LittleEndian.Uint32(data[OffsetSequence:])
	p.Timestamp = binary.LittleEndian.Uint32(data[OffsetTimestamp:])
	p.Flags = data[OffsetFlags]
	p.Payload = make([]byte, size)
	copy(p.Payload, data[OffsetPayload:OffsetPayload+size])

	return nil
}

// ParseAudioPacket parses an audio packet from raw bytes
func ParseAudioPacket(data []byte, maxPayload int) (*AudioPacket, error) {
	p := &AudioPacket{}
	if err := p.Parse(data, maxPayload); err != nil {
		return nil, err
	}
	return p, nil
}
