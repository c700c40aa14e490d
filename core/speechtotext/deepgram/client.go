// Package deepgram implements the speechtotext contract against the
// Deepgram live transcription websocket.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/voxenlabs/voxen-core/core/audio"
	"github.com/voxenlabs/voxen-core/core/speechtotext"
)

const (
	listenEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel   = "nova-3"
)

type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}
	return client, nil
}

func (c *Client) NewStream(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Stream, error) {
	options := &speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := c.connect(*options, *encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	stream := newStream(conn)
	go stream.readAndProcessMessages(ctx)
	return stream, nil
}

func (c *Client) connect(options speechtotext.TranscriptionOptions, encoding encodingInfo) (*websocket.Conn, error) {
	listenURL, _ := url.Parse(listenEndpoint)
	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("utterance_end_ms", "1000")
	if options.InterimResults {
		queryParams.Set("interim_results", "true")
	}
	endpointing := options.EndpointingMs
	if endpointing == 0 {
		endpointing = 300
	}
	queryParams.Set("endpointing", strconv.Itoa(endpointing))
	queryParams.Set("vad_events", "true")

	listenURL.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}
