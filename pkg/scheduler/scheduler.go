package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/audio"
	"github.com/dbehnke/intercom-bridge/pkg/codec"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/network"
)

// Sender transmits one encoded frame with its flags
type Sender interface {
	Send(payload []byte, ptt, call bool) error
}

// Gate reports whether the local microphone is keyed
type Gate interface {
	IsTransmitting() bool
}

// CallSignal is the call state as seen by the audio path
type CallSignal interface {
	IsCalling() bool
	SetRemote(active bool)
}

// Config holds per-frame processing options
type Config struct {
	FrameSize        int
	FrameDuration    time.Duration
	LimiterEnabled   bool
	LimiterThreshold float64
	SidetoneEnabled  bool
	SidetoneLevel    float64
	// MaxConceal caps concealment frames synthesized for one sequence gap
	MaxConceal int
}

// Stats holds cumulative scheduler counters
type Stats struct {
	FramesCaptured  uint64  `json:"frames_captured"`
	FramesSkipped   uint64  `json:"frames_skipped"`
	FramesEncoded   uint64  `json:"frames_encoded"`
	FramesSent      uint64  `json:"frames_sent"`
	FramesDecoded   uint64  `json:"frames_decoded"`
	FramesConcealed uint64  `json:"frames_concealed"`
	FramesPlayed    uint64  `json:"frames_played"`
	CaptureErrors   uint64  `json:"capture_errors"`
	EncodeErrors    uint64  `json:"encode_errors"`
	SendErrors      uint64  `json:"send_errors"`
	DecodeErrors    uint64  `json:"decode_errors"`
	PlaybackErrors  uint64  `json:"playback_errors"`
	InputLevel      float64 `json:"input_level"`
	OutputLevel     float64 `json:"output_level"`
}

// Scheduler runs the transmit cycle on a fixed period and the receive
// path whenever the transport delivers a frame.
type Scheduler struct {
	cfg    Config
	log    *logger.Logger
	source audio.Source
	sink   audio.Sink
	codec  codec.Codec
	sender Sender
	gate   Gate
	call   CallSignal

	// last captured frame, mixed into playback as sidetone
	tapMu sync.Mutex
	tap   []int16

	remotePTT atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// New creates a scheduler
func New(cfg Config, src audio.Source, sink audio.Sink, c codec.Codec, sender Sender, gate Gate, call CallSignal, log *logger.Logger) *Scheduler {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = c.FrameSize()
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	return &Scheduler{
		cfg:    cfg,
		log:    log.WithComponent("scheduler"),
		source: src,
		sink:   sink,
		codec:  c,
		sender: sender,
		gate:   gate,
		call:   call,
		tap:    make([]int16, cfg.FrameSize),
	}
}

// Run executes TransmitCycle every frame period until ctx is done. Late
// ticks are coalesced by the ticker, never queued.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FrameDuration)
	defer ticker.Stop()

	s.log.Info("Frame scheduler started",
		logger.Duration("period", s.cfg.FrameDuration),
		logger.Int("frame_size", s.cfg.FrameSize))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.TransmitCycle()
		}
	}
}

// TransmitCycle captures one frame and, if PTT is keyed, encodes and sends
// it. Silence is never transmitted.
func (s *Scheduler) TransmitCycle() {
	frame := make([]int16, s.cfg.FrameSize)
	if err := s.source.Read(frame); err != nil {
		s.count(func(st *Stats) { st.CaptureErrors++ })
		s.log.Warn("Audio capture failed", logger.Error(err))
		return
	}

	s.tapMu.Lock()
	copy(s.tap, frame)
	s.tapMu.Unlock()

	level := audio.RMS(frame)
	s.count(func(st *Stats) {
		st.FramesCaptured++
		st.InputLevel = level
	})

	if !s.gate.IsTransmitting() {
		s.count(func(st *Stats) { st.FramesSkipped++ })
		return
	}

	payload, err := s.codec.Encode(frame)
	if err != nil {
		s.count(func(st *Stats) { st.EncodeErrors++ })
		s.log.Warn("Encode failed", logger.Error(err))
		return
	}
	s.count(func(st *Stats) { st.FramesEncoded++ })

	if err := s.sender.Send(payload, true, s.call.IsCalling()); err != nil {
		s.count(func(st *Stats) { st.SendErrors++ })
		if errors.Is(err, network.ErrPeerUnreachable) {
			s.log.Debug("Send skipped, peer unreachable")
		} else {
			s.log.Warn("Send failed", logger.Error(err))
		}
		return
	}
	s.count(func(st *Stats) { st.FramesSent++ })
}

// HandleReceive processes one frame delivered by the transport
func (s *Scheduler) HandleReceive(rx network.Received) {
	s.call.SetRemote(rx.Call)
	s.remotePTT.Store(rx.PTT)

	conceal := int(rx.Lost)
	if conceal > s.cfg.MaxConceal {
		conceal = s.cfg.MaxConceal
	}
	for i := 0; i < conceal; i++ {
		s.playback(nil)
	}

	s.playback(rx.Payload)
}

// playback decodes (or conceals, for an empty payload) and plays a frame
func (s *Scheduler) playback(payload []byte) {
	pcm, err := s.codec.Decode(payload, s.cfg.FrameSize)
	if err != nil {
		s.count(func(st *Stats) { st.DecodeErrors++ })
		s.log.Warn("Decode failed", logger.Error(err))
		return
	}
	if len(payload) == 0 {
		s.count(func(st *Stats) { st.FramesConcealed++ })
	} else {
		s.count(func(st *Stats) { st.FramesDecoded++ })
	}

	if s.cfg.LimiterEnabled {
		audio.Limit(pcm, s.cfg.LimiterThreshold)
	}

	if s.cfg.SidetoneEnabled {
		s.tapMu.Lock()
		pcm = audio.Sidetone(s.tap, pcm, s.cfg.SidetoneLevel, s.gate.IsTransmitting())
		s.tapMu.Unlock()
	}

	level := audio.RMS(pcm)
	if err := s.sink.Write(pcm); err != nil {
		s.count(func(st *Stats) { st.PlaybackErrors++ })
		s.log.Warn("Audio playback failed", logger.Error(err))
		return
	}
	s.count(func(st *Stats) {
		st.FramesPlayed++
		st.OutputLevel = level
	})
}

// RemotePTT reports whether the last received frame had PTT set
func (s *Scheduler) RemotePTT() bool { return s.remotePTT.Load() }

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// ResetStats zeroes the counters
func (s *Scheduler) ResetStats() {
	s.statsMu.Lock()
	s.stats = Stats{}
	s.statsMu.Unlock()
}

func (s *Scheduler) count(f func(*Stats)) {
	s.statsMu.Lock()
	f(&s.stats)
	s.statsMu.Unlock()
}
