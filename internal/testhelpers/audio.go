package testhelpers

import (
	"errors"
	"sync"
)

// ErrScriptedFailure is returned by fakes told to fail
var ErrScriptedFailure = errors.New("scripted failure")

// MockSource is an audio source that fills frames with a constant value
type MockSource struct {
	mu    sync.Mutex
	Value int16
	Fail  bool
	reads int
}

// Read implements audio.Source
func (s *MockSource) Read(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.Fail {
		return ErrScriptedFailure
	}
	for i := range frame {
		frame[i] = s.Value
	}
	return nil
}

// Reads returns how many frames were requested
func (s *MockSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// MockSink records every frame written to it
type MockSink struct {
	mu     sync.Mutex
	frames [][]int16
	Fail   bool
}

// Write implements audio.Sink
func (s *MockSink) Write(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrScriptedFailure
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

// Frames returns a copy of the recorded frames
func (s *MockSink) Frames() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int16(nil), s.frames...)
}

// MockCodec is a transparent codec that counts its calls. Encode emits the
// first sample as two bytes; Decode fills the frame with that sample, or
// with ConcealValue for an empty payload.
type MockCodec struct {
	mu           sync.Mutex
	Size         int
	ConcealValue int16
	FailEncode   bool
	FailDecode   bool
	PayloadLen   int // when > 0, Encode pads its output to this length

	encodes  int
	decodes  int
	conceals int
}

// FrameSize implements codec.Codec
func (c *MockCodec) FrameSize() int { return c.Size }

// Encode implements codec.Codec
func (c *MockCodec) Encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encodes++
	if c.FailEncode {
		return nil, ErrScriptedFailure
	}
	var v int16
	if len(pcm) > 0 {
		v = pcm[0]
	}
	n := 2
	if c.PayloadLen > n {
		n = c.PayloadLen
	}
	out := make([]byte, n)
	out[0] = byte(v)
	out[1] = byte(v >> 8)
	return out, nil
}

// Decode implements codec.Codec
func (c *MockCodec) Decode(payload []byte, outLen int) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int16, outLen)
	if len(payload) == 0 {
		c.conceals++
		for i := range out {
			out[i] = c.ConcealValue
		}
		return out, nil
	}
	c.decodes++
	if c.FailDecode || len(payload) < 2 {
		return nil, ErrScriptedFailure
	}
	v := int16(payload[0]) | int16(payload[1])<<8
	for i := range out {
		out[i] = v
	}
	return out, nil
}

// Counts returns encode, decode and conceal call counts
func (c *MockCodec) Counts() (encodes, decodes, conceals int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encodes, c.decodes, c.conceals
}
