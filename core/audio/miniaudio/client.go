// Package miniaudio provides a local microphone/speaker client on top
// of malgo, usable as the audio input handle and playback consumer for
// a single-machine deployment.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/voxenlabs/voxen-core/core/audio"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it.
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.playbackClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	if err := client.captureClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

// Capture starts delivering microphone chunks to onChunk.
func (c *Client) Capture(_ context.Context, onChunk func(chunk []byte)) error {
	return c.captureClient.Start(onChunk)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

// Play queues a synthesized segment payload on the speaker.
func (c *Client) Play(payload []byte) error {
	return c.playbackClient.Play(payload)
}

// Clear drops whatever is still buffered on the speaker. Used when a
// turn is interrupted so playback stops immediately.
func (c *Client) Clear() {
	c.playbackClient.Clear()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
