package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/voxenlabs/voxen-core/core/audio"
)

type captureClient struct {
	device *malgo.Device

	onChunkLock sync.Mutex
	onChunk     func(chunk []byte)
}

func (c *captureClient) Init(audioCtx *malgo.AllocatedContext) error {
	encodingInfo := audio.GetDefaultEncodingInfo()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(encodingInfo.SampleRate)

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			c.onChunkLock.Lock()
			onChunk := c.onChunk
			c.onChunkLock.Unlock()
			if onChunk == nil {
				return
			}

			// The device reuses its buffer between callbacks, so hand
			// out a copy.
			chunk := make([]byte, len(inputSamples))
			copy(chunk, inputSamples)
			onChunk(chunk)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	return nil
}

func (c *captureClient) Start(onChunk func(chunk []byte)) error {
	if c.device == nil {
		return fmt.Errorf("capture device is not initialized")
	}

	c.onChunkLock.Lock()
	c.onChunk = onChunk
	c.onChunkLock.Unlock()

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	if c.device == nil {
		return fmt.Errorf("capture device is not initialized")
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	c.onChunkLock.Lock()
	c.onChunk = nil
	c.onChunkLock.Unlock()
	return nil
}

func (c *captureClient) Uninit() error {
	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil
	return nil
}
