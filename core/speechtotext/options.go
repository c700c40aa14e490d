package speechtotext

import "github.com/voxenlabs/voxen-core/core/audio"

type TranscriptionOptions struct {
	// InterimResults asks the recognizer for non-final updates.
	InterimResults bool

	// EndpointingMs is the trailing-silence window that finalizes an
	// utterance. Zero leaves the recognizer default.
	EndpointingMs int

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithInterimResults() TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimResults = true
	}
}

func WithEndpointing(ms int) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EndpointingMs = ms
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
