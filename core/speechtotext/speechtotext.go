// Package speechtotext defines the streaming transcription contract the
// orchestration pipeline consumes.
package speechtotext

import "context"

// Result is one transcription update. A stream produces any number of
// non-final results and ends after the final one (or cancellation).
type Result struct {
	Text    string
	IsFinal bool
}

// Stream is one live transcription connection.
type Stream interface {
	// SendAudio forwards captured audio to the recognizer.
	SendAudio(audio []byte) error

	// Results iterates transcription updates until the stream finishes,
	// the context is cancelled, or an error is yielded.
	Results(ctx context.Context) func(yield func(Result, error) bool)

	// Close ends the stream; any blocked Results iteration returns.
	Close(ctx context.Context) error
}

// Client opens transcription streams.
type Client interface {
	NewStream(ctx context.Context, opts ...TranscriptionOption) (Stream, error)
}
