package audio

import (
	"math"
	"sync"
)

// Source fills one frame of captured PCM per call
type Source interface {
	Read(frame []int16) error
}

// Sink accepts one frame of PCM for playback
type Sink interface {
	Write(frame []int16) error
}

// SineGenerator produces a phase-continuous tone across frames
type SineGenerator struct {
	mu        sync.Mutex
	freq      float64
	amplitude float64
	rate      float64
	phase     float64
}

// NewSineGenerator creates a generator. Amplitude is a fraction of full scale.
func NewSineGenerator(sampleRate int, freq, amplitude float64) *SineGenerator {
	return &SineGenerator{
		freq:      freq,
		amplitude: clampGain(amplitude),
		rate:      float64(sampleRate),
	}
}

// Fill writes the next len(frame) samples of the tone
func (g *SineGenerator) Fill(frame []int16) {
	g.mu.Lock()
	defer g.mu.Unlock()

	step := 2 * math.Pi * g.freq / g.rate
	peak := g.amplitude * 32767
	for i := range frame {
		frame[i] = int16(peak * math.Sin(g.phase))
		g.phase += step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
}

// ToneSource is a Source that captures a test tone
type ToneSource struct {
	gen *SineGenerator
}

// NewToneSource creates a tone source
func NewToneSource(sampleRate int, freq, amplitude float64) *ToneSource {
	return &ToneSource{gen: NewSineGenerator(sampleRate, freq, amplitude)}
}

// Read implements Source
func (s *ToneSource) Read(frame []int16) error {
	s.gen.Fill(frame)
	return nil
}

// SilenceSource is a Source that captures digital silence
type SilenceSource struct{}

// Read implements Source
func (SilenceSource) Read(frame []int16) error {
	for i := range frame {
		frame[i] = 0
	}
	return nil
}

// LevelSink discards audio but remembers its level, for hosts without a
// playback device.
type LevelSink struct {
	mu     sync.Mutex
	frames uint64
	rms    float64
	peak   int32
}

// Write implements Sink
func (s *LevelSink) Write(frame []int16) error {
	rms := RMS(frame)
	peak := Peak(frame)
	s.mu.Lock()
	s.frames++
	s.rms = rms
	s.peak = peak
	s.mu.Unlock()
	return nil
}

// Frames returns the number of frames written
func (s *LevelSink) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Level returns the RMS and peak of the last frame written
func (s *LevelSink) Level() (float64, int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rms, s.peak
}
