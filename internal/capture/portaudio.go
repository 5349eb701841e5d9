//go:build portaudio

package capture

import (
	"context"
	"errors"
	"strings"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/audio"
)

// PortAudioAvailable reports whether the binary was built with the
// portaudio tag.
const PortAudioAvailable = true

// PortAudioBackend reads interleaved stereo float32 from a PortAudio input
// device. Point it at a monitor or loopback device (PulseAudio
// "Monitor of ...", BlackHole, Stereo Mix) to capture system output.
type PortAudioBackend struct {
	DeviceName      string
	SampleRate      float64
	FramesPerBuffer int

	logger *zap.Logger
	stream *portaudio.Stream
	buf    []float32
	pkt    *audio.Packet
}

// NewPortAudioBackend selects the named input device, or the default input
// when deviceName is empty.
func NewPortAudioBackend(deviceName string, sampleRate float64, logger *zap.Logger) *PortAudioBackend {
	return &PortAudioBackend{
		DeviceName:      deviceName,
		SampleRate:      sampleRate,
		FramesPerBuffer: 512,
		logger:          logger,
	}
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

func (b *PortAudioBackend) Open(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return newError(InitializationFailed, "portaudio init", err)
	}

	dev, err := b.findDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}
	if dev.MaxInputChannels < 1 {
		_ = portaudio.Terminate()
		return newError(UnsupportedFormat, "portaudio", errors.New(dev.Name+" has no input channels"))
	}

	channels := 2
	if dev.MaxInputChannels < 2 {
		channels = 1
	}
	if b.FramesPerBuffer <= 0 || b.FramesPerBuffer > audio.MaxPacketFrames {
		b.FramesPerBuffer = 512
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = b.SampleRate
	params.FramesPerBuffer = b.FramesPerBuffer

	b.buf = make([]float32, b.FramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, b.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return newError(InitializationFailed, "portaudio open stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return newError(InitializationFailed, "portaudio start", err)
	}

	b.stream = stream
	b.pkt = audio.AcquirePacket()
	b.logger.Info("portaudio capture started",
		zap.String("device", dev.Name),
		zap.Int("channels", channels),
		zap.Float64("sampleRate", b.SampleRate))
	return nil
}

func (b *PortAudioBackend) findDevice() (*portaudio.DeviceInfo, error) {
	if b.DeviceName == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, newError(DeviceNotFound, "portaudio default input", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, newError(SystemError, "portaudio devices", err)
	}
	want := strings.ToLower(b.DeviceName)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, newError(DeviceNotFound, "portaudio", errors.New(b.DeviceName))
}

// Read blocks for one buffer. Input overflows are reported by PortAudio
// when the host dropped data and are not fatal.
func (b *PortAudioBackend) Read(ctx context.Context) (audio.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, newError(ReadError, "portaudio read", err)
	}

	p := (*b.pkt)[:0]
	if len(b.buf) == b.FramesPerBuffer {
		p = audio.FramesFromMono(p, b.buf)
	} else {
		p = audio.FramesFromInterleaved(p, b.buf)
	}
	*b.pkt = p
	return p, nil
}

func (b *PortAudioBackend) Close() error {
	if b.stream == nil {
		return nil
	}
	_ = b.stream.Stop()
	err := b.stream.Close()
	b.stream = nil
	audio.ReleasePacket(b.pkt)
	b.pkt = nil
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
