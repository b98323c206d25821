package audio

import (
	"math"
)

// FrameLen returns the samples in one frame
func FrameLen(sampleRate, frameMS int) int {
	return sampleRate * frameMS / 1000
}

// Mix combines two frames with per-input gains clamped to [0, 1]. Each
// weighted sample is truncated before summing; the sum saturates at the
// int16 range. The output has the length of the shorter input.
func Mix(a, b []int16, gainA, gainB float64) []int16 {
	gainA = clampGain(gainA)
	gainB = clampGain(gainB)

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		sum := int32(float64(a[i])*gainA) + int32(float64(b[i])*gainB)
		out[i] = clampSample(sum)
	}
	return out
}

// Limit compresses samples beyond ±T (T = 32767*threshold) by 4:1, in
// place. Overshoot is divided with integer truncation toward zero.
func Limit(buf []int16, threshold float64) {
	t := int32(32767 * clampGain(threshold))

	for i, s := range buf {
		x := int32(s)
		switch {
		case x > t:
			buf[i] = int16(t + (x-t)/4)
		case x < -t:
			buf[i] = int16(-t + (x+t)/4)
		}
	}
}

// Sidetone blends a fraction of the local microphone into the incoming
// frame when gate is set. Otherwise it returns a copy of incoming.
func Sidetone(mic, incoming []int16, level float64, gate bool) []int16 {
	if !gate || level <= 0 {
		out := make([]int16, len(incoming))
		copy(out, incoming)
		return out
	}
	level = clampGain(level)
	return Mix(incoming, mic, 1-level, level)
}

// RMS returns the root mean square level normalized to [0, 1]
func RMS(buf []int16) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, s := range buf {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(buf))) / 32768.0
}

// Peak returns the largest absolute sample value
func Peak(buf []int16) int32 {
	var p int32
	for _, s := range buf {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > p {
			p = v
		}
	}
	return p
}

func clampSample(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func clampGain(g float64) float64 {
	if g < 0 || math.IsNaN(g) {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}
