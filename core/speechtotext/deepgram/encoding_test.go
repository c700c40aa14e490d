package deepgram

import (
	"testing"

	"github.com/voxenlabs/voxen-core/core/audio"
)

func TestConvertEncoding(t *testing.T) {
	cases := []struct {
		name    string
		input   audio.EncodingInfo
		want    encodingFormat
		wantErr bool
	}{
		{"linear16 wideband", audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}, encodingLinear16, false},
		{"linear16 48k", audio.EncodingInfo{SampleRate: 48000, Format: audio.EncodingLinear16}, encodingLinear16, false},
		{"mulaw telephony", audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}, encodingMulaw, false},
		{"alaw telephony", audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingALaw}, encodingALaw, false},
		{"mulaw above telephony rate", audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}, "", true},
		{"linear16 odd rate", audio.EncodingInfo{SampleRate: 44100, Format: audio.EncodingLinear16}, "", true},
		{"unknown format", audio.EncodingInfo{SampleRate: 16000}, "", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := convertEncoding(c.input)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %+v", c.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected conversion to succeed, got %v", err)
			}
			if got.Format != c.want || got.SampleRate != c.input.SampleRate {
				t.Fatalf("expected %s at %d, got %s at %d", c.want, c.input.SampleRate, got.Format, got.SampleRate)
			}
		})
	}
}
