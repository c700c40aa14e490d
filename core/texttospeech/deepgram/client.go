// Package deepgram implements the texttospeech contract against the
// Deepgram speak REST API, one request per segment.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"

	"github.com/voxenlabs/voxen-core/core/audio"
	"github.com/voxenlabs/voxen-core/core/texttospeech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const speakEndpoint = "https://api.deepgram.com/v1/speak"

type Voice string

const (
	VoiceAsteria Voice = "aura-2-asteria-en"
	VoiceThalia  Voice = "aura-2-thalia-en"
	VoiceOrion   Voice = "aura-2-orion-en"
	VoiceArcas   Voice = "aura-2-arcas-en"
)

const defaultVoice = VoiceAsteria

func GetAvailableVoices() []Voice {
	return []Voice{VoiceAsteria, VoiceThalia, VoiceOrion, VoiceArcas}
}

type Client struct {
	apiKey     string
	voice      Voice
	httpClient *http.Client
}

func NewClient(voice Voice) (*Client, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	if voice == "" {
		voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice")
	}

	return &Client{
		apiKey: apiKey,
		voice:  voice,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, error) {
	options := &texttospeech.SynthesisOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	ctx, span := tracer.Start(ctx, "synthesize segment")
	defer span.End()
	span.SetAttributes(attribute.Int("request.text_length", len(text)))

	voice := string(c.voice)
	if options.Voice != "" {
		voice = options.Voice
	}

	speakURL, _ := url.Parse(speakEndpoint)
	queryParams := speakURL.Query()
	queryParams.Set("model", voice)
	queryParams.Set("encoding", options.EncodingInfo.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	queryParams.Set("container", "none")
	speakURL.RawQuery = queryParams.Encode()

	body, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, speakURL.String(), bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("speak request failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("speak request failed with status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speak response: %w", err)
	}
	span.SetAttributes(attribute.Int("response.audio_bytes", len(payload)))
	return payload, nil
}
