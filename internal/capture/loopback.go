package capture

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/adam-palmer1/smarterli-desktop/internal/pcm"
)

// malgoLoopback owns a miniaudio context and its loopback device.
type malgoLoopback struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func openMalgoLoopback(device string, sampleRate int, onSamples func([]float32)) (loopbackDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	if device != "" {
		// Loopback captures what a playback device renders.
		infos, err := ctx.Devices(malgo.Playback)
		if err != nil {
			closeContext(ctx)
			return nil, fmt.Errorf("list playback devices: %w", err)
		}
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name()
		}
		i := matchDevice(names, device)
		if i < 0 {
			closeContext(ctx)
			return nil, fmt.Errorf("no playback device matching %q", device)
		}
		deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
		logrus.WithFields(logrus.Fields{
			"component": "capture",
			"device":    names[i],
		}).Info("selected loopback device")
	}

	onRecvFrames := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		onSamples(pcm.DecodeFloat32LE(input))
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		closeContext(ctx)
		return nil, err
	}
	return &malgoLoopback{ctx: ctx, device: dev}, nil
}

func (l *malgoLoopback) Start() error { return l.device.Start() }

func (l *malgoLoopback) Stop() error { return l.device.Stop() }

// Close releases the device and the context.
func (l *malgoLoopback) Close() {
	if l.device != nil {
		l.device.Uninit()
		l.device = nil
	}
	if l.ctx != nil {
		closeContext(l.ctx)
		l.ctx = nil
	}
}

func closeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
