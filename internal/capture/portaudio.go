package capture

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Device describes an available audio input device.
type Device struct {
	ID   int
	Name string
}

// ListInputDevices returns the PortAudio devices that can capture.
// portaudio.Initialize must have been called.
func ListInputDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var out []Device
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out, nil
}

// resolveInput returns the first input device whose name contains name
// (case-insensitive), or the default input device when name is empty.
func resolveInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var inputs []*portaudio.DeviceInfo
	var names []string
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
			names = append(names, d.Name)
		}
	}
	i := matchDevice(names, name)
	if i < 0 {
		return nil, fmt.Errorf("no input device matching %q", name)
	}
	return inputs[i], nil
}

// matchDevice returns the index of the first name containing want,
// case-insensitively, or -1.
func matchDevice(names []string, want string) int {
	want = strings.ToLower(want)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}

func openPortAudioMic(device string, sampleRate, frameSize int) (micStream, []float32, error) {
	dev, err := resolveInput(device)
	if err != nil {
		return nil, nil, err
	}
	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, err
	}
	return stream, buf, nil
}
