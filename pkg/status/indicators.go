package status

// LEDPattern is how an indicator should be rendered
type LEDPattern string

const (
	LEDOff       LEDPattern = "off"
	LEDOn        LEDPattern = "on"
	LEDBlinkSlow LEDPattern = "blink_slow" // 1000ms period
	LEDBlinkFast LEDPattern = "blink_fast" // 200ms period
)

// Indicators holds one pattern per LED
type Indicators struct {
	Power  LEDPattern `json:"power"`
	Status LEDPattern `json:"status"`
	PTT    LEDPattern `json:"ptt"`
	Call   LEDPattern `json:"call"`
}

// Indicate derives LED patterns from a snapshot
func Indicate(s Snapshot) Indicators {
	ind := Indicators{Power: LEDOn, Status: LEDOff, PTT: LEDOff, Call: LEDOff}

	switch s.Signal {
	case SignalGood:
		ind.Status = LEDBlinkSlow
	case SignalPoor:
		ind.Status = LEDBlinkFast
	}

	// The base has no local talker, so its PTT LED shows the pack keying
	if s.Transmitting || (s.Role == "base" && s.RemotePTT) {
		ind.PTT = LEDOn
	}

	switch {
	case s.BeingCalled:
		ind.Call = LEDBlinkFast
	case s.Calling:
		ind.Call = LEDOn
	}

	if s.Battery != nil && s.Battery.Critical {
		ind.Power = LEDBlinkFast
	} else if s.Battery != nil && s.Battery.Low {
		ind.Power = LEDBlinkSlow
	}

	return ind
}
