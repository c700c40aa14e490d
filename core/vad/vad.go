// Package vad gates audio input on voice activity.
package vad

// Detection is the per-chunk classification result.
type Detection struct {
	SpeechStart bool
	SpeechEnd   bool
}

// Detector classifies audio chunks. Implementations may keep smoothing
// state internally but expose a per-chunk contract to the pipeline.
type Detector interface {
	Detect(chunk []byte) Detection
}
