package vad

import (
	"encoding/binary"
	"math"
)

// EnergyDetector is an RMS-threshold detector over 16-bit little-endian
// PCM with majority-vote smoothing and a silence hangover before a
// speech end is reported.
type EnergyDetector struct {
	threshold float64
	window    []bool
	windowLen int

	voiced        bool
	silentStreak  int
	hangoverCount int
}

type EnergyOption func(*EnergyDetector)

// WithThreshold overrides the RMS amplitude treated as voice.
func WithThreshold(threshold float64) EnergyOption {
	return func(d *EnergyDetector) { d.threshold = threshold }
}

// WithHangover sets how many consecutive silent chunks end a speech run.
func WithHangover(chunks int) EnergyOption {
	return func(d *EnergyDetector) { d.hangoverCount = chunks }
}

func NewEnergyDetector(opts ...EnergyOption) *EnergyDetector {
	d := &EnergyDetector{
		threshold:     300.0,
		windowLen:     4,
		hangoverCount: 8,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *EnergyDetector) Detect(chunk []byte) Detection {
	loud := d.isLoud(chunk)

	d.window = append(d.window, loud)
	if len(d.window) > d.windowLen {
		d.window = d.window[len(d.window)-d.windowLen:]
	}
	votes := 0
	for _, v := range d.window {
		if v {
			votes++
		}
	}
	speech := votes*2 >= len(d.window) && loud

	var detection Detection
	switch {
	case speech && !d.voiced:
		d.voiced = true
		d.silentStreak = 0
		detection.SpeechStart = true
	case !speech && d.voiced:
		d.silentStreak++
		if d.silentStreak >= d.hangoverCount {
			d.voiced = false
			d.silentStreak = 0
			detection.SpeechEnd = true
		}
	case speech:
		d.silentStreak = 0
	}
	return detection
}

// Reset clears smoothing state for a new turn.
func (d *EnergyDetector) Reset() {
	d.window = d.window[:0]
	d.voiced = false
	d.silentStreak = 0
}

func (d *EnergyDetector) isLoud(chunk []byte) bool {
	if len(chunk) < 2 {
		return false
	}
	var sum float64
	samples := len(chunk) / 2
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) >= d.threshold
}
