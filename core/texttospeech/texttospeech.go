// Package texttospeech defines the per-segment synthesis contract.
package texttospeech

import "context"

// Synthesizer turns one text segment into playable audio. Calls are
// independent; the pipeline may run several concurrently and reorders
// the results by segment sequence.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts ...SynthesisOption) ([]byte, error)
}
