package deepgram

import (
	"fmt"

	"github.com/voxenlabs/voxen-core/core/audio"
	"github.com/voxenlabs/voxen-core/internal/utils"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

// formatSupport maps each accepted format to the sample rates Deepgram's
// live API takes for it. The companded formats are telephony-only.
var formatSupport = map[string]struct {
	name  encodingFormat
	rates []int
}{
	audio.EncodingLinear16.Name(): {encodingLinear16, []int{8000, 16000, 24000, 32000, 48000}},
	audio.EncodingALaw.Name():     {encodingALaw, []int{8000}},
	audio.EncodingMulaw.Name():    {encodingMulaw, []int{8000}},
}

func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	support, ok := formatSupport[encoding.Format.Name()]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	for _, rate := range support.rates {
		if rate == encoding.SampleRate {
			return utils.Ptr(encodingInfo{SampleRate: rate, Format: support.name}), nil
		}
	}
	return nil, fmt.Errorf("unsupported sample rate %d for %s encoding",
		encoding.SampleRate, support.name)
}
