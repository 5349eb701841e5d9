//go:build !portaudio

package capture

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/audio"
)

// PortAudioAvailable reports whether the binary was built with the
// portaudio tag.
const PortAudioAvailable = false

var errNoPortAudio = errors.New("built without portaudio support (rebuild with -tags portaudio)")

// PortAudioBackend is a placeholder that fails to open.
type PortAudioBackend struct {
	DeviceName      string
	SampleRate      float64
	FramesPerBuffer int
}

func NewPortAudioBackend(deviceName string, sampleRate float64, logger *zap.Logger) *PortAudioBackend {
	return &PortAudioBackend{DeviceName: deviceName, SampleRate: sampleRate, FramesPerBuffer: 512}
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

func (b *PortAudioBackend) Open(ctx context.Context) error {
	return newError(InitializationFailed, "portaudio", errNoPortAudio)
}

func (b *PortAudioBackend) Read(ctx context.Context) (audio.Packet, error) {
	return nil, newError(ReadError, "portaudio", errNoPortAudio)
}

func (b *PortAudioBackend) Close() error { return nil }
