package codec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"layeh.com/gopus"
)

var (
	// ErrFrameLength is returned when Encode is handed a frame of the wrong size
	ErrFrameLength = errors.New("pcm frame has wrong length")
	// ErrEncodedTooLarge is returned when an encoded frame exceeds the payload limit
	ErrEncodedTooLarge = errors.New("encoded frame exceeds payload limit")
)

// Codec compresses fixed-length PCM frames and reconstructs them.
// Decode with an empty payload runs loss concealment.
type Codec interface {
	Encode(pcm []int16) ([]byte, error)
	Decode(payload []byte, outLen int) ([]int16, error)
	FrameSize() int
}

// Config holds codec parameters, fixed for the codec's lifetime
type Config struct {
	SampleRate int
	FrameMS    int
	Bitrate    int
	MaxPayload int
}

// Stats holds cumulative codec counters
type Stats struct {
	FramesEncoded   uint64
	FramesDecoded   uint64
	FramesConcealed uint64
	EncodeErrors    uint64
	DecodeErrors    uint64
	AvgEncodeTime   time.Duration
}

// OpusCodec is a mono voice codec backed by libopus
type OpusCodec struct {
	cfg       Config
	frameSize int

	encMu sync.Mutex
	enc   *gopus.Encoder

	decMu sync.Mutex
	dec   *gopus.Decoder

	statsMu    sync.Mutex
	stats      Stats
	encodeTime time.Duration
}

// NewOpus creates an Opus codec tuned for voice: mono, VoIP application,
// constant bitrate.
func NewOpus(cfg Config) (*OpusCodec, error) {
	frameSize := cfg.SampleRate * cfg.FrameMS / 1000
	if frameSize <= 0 {
		return nil, fmt.Errorf("codec: invalid frame %d Hz x %d ms", cfg.SampleRate, cfg.FrameMS)
	}
	if cfg.MaxPayload <= 0 {
		return nil, fmt.Errorf("codec: invalid max payload %d", cfg.MaxPayload)
	}

	enc, err := gopus.NewEncoder(cfg.SampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	enc.SetBitrate(cfg.Bitrate)
	enc.SetVbr(false)

	dec, err := gopus.NewDecoder(cfg.SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}

	return &OpusCodec{cfg: cfg, frameSize: frameSize, enc: enc, dec: dec}, nil
}

// FrameSize returns the number of samples per frame
func (c *OpusCodec) FrameSize() int { return c.frameSize }

// Encode compresses exactly one frame
func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != c.frameSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFrameLength, len(pcm), c.frameSize)
	}

	start := time.Now()
	c.encMu.Lock()
	out, err := c.enc.Encode(pcm, c.frameSize, c.cfg.MaxPayload)
	c.encMu.Unlock()
	elapsed := time.Since(start)

	if err == nil && len(out) > c.cfg.MaxPayload {
		err = fmt.Errorf("%w: %d > %d", ErrEncodedTooLarge, len(out), c.cfg.MaxPayload)
	}

	c.statsMu.Lock()
	if err != nil {
		c.stats.EncodeErrors++
	} else {
		c.stats.FramesEncoded++
		c.encodeTime += elapsed
	}
	c.statsMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	return out, nil
}

// Decode reconstructs outLen samples. An empty payload asks the decoder to
// conceal a lost frame; that path always yields outLen samples.
func (c *OpusCodec) Decode(payload []byte, outLen int) ([]int16, error) {
	if outLen <= 0 {
		return nil, fmt.Errorf("%w: output length %d", ErrFrameLength, outLen)
	}

	conceal := len(payload) == 0
	if conceal {
		payload = nil
	}

	c.decMu.Lock()
	pcm, err := c.dec.Decode(payload, outLen, false)
	c.decMu.Unlock()

	c.statsMu.Lock()
	switch {
	case conceal:
		c.stats.FramesConcealed++
	case err != nil:
		c.stats.DecodeErrors++
	default:
		c.stats.FramesDecoded++
	}
	c.statsMu.Unlock()

	if err != nil {
		if conceal {
			return make([]int16, outLen), nil
		}
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return fitLength(pcm, outLen), nil
}

// Stats returns a snapshot of the codec counters
func (c *OpusCodec) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := c.stats
	if s.FramesEncoded > 0 {
		s.AvgEncodeTime = c.encodeTime / time.Duration(s.FramesEncoded)
	}
	return s
}

// fitLength pads with silence or truncates to exactly n samples
func fitLength(pcm []int16, n int) []int16 {
	if len(pcm) == n {
		return pcm
	}
	out := make([]int16, n)
	copy(out, pcm)
	return out
}
