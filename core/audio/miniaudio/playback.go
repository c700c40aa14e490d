package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/voxenlabs/voxen-core/core/audio"
)

type playbackClient struct {
	device *malgo.Device

	buffersLock sync.Mutex
	buffers     [][]byte
}

func (c *playbackClient) Init(audioCtx *malgo.AllocatedContext) error {
	encodingInfo := audio.GetDefaultEncodingInfo()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(encodingInfo.SampleRate)

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, _ []byte, _ uint32) {
			c.fill(outputSamples)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	c.device = device
	return nil
}

// fill copies queued audio into the device buffer, tracking partially
// consumed payloads across callbacks.
func (c *playbackClient) fill(outputSamples []byte) {
	c.buffersLock.Lock()
	defer c.buffersLock.Unlock()

	offset := 0
	for offset < len(outputSamples) && len(c.buffers) > 0 {
		n := copy(outputSamples[offset:], c.buffers[0])
		offset += n
		if n == len(c.buffers[0]) {
			c.buffers = c.buffers[1:]
		} else {
			c.buffers[0] = c.buffers[0][n:]
		}
	}
	// The remainder stays zeroed, which is silence for linear16.
}

func (c *playbackClient) Play(payload []byte) error {
	if c.device == nil {
		return fmt.Errorf("playback device is not initialized")
	}

	c.buffersLock.Lock()
	defer c.buffersLock.Unlock()
	c.buffers = append(c.buffers, payload)
	return nil
}

func (c *playbackClient) Clear() {
	c.buffersLock.Lock()
	defer c.buffersLock.Unlock()
	c.buffers = nil
}

func (c *playbackClient) Start() error {
	if c.device == nil {
		return fmt.Errorf("playback device is not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Stop() error {
	if c.device == nil {
		return fmt.Errorf("playback device is not initialized")
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Uninit() error {
	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil
	return nil
}
