package capture

import (
	"context"
	"io"
	"time"

	"github.com/jotoft/loopback-visualizer/internal/audio"
)

// SyntheticBackend generates a sine tone. It stands in for a loopback
// device on machines without one and drives the tests.
type SyntheticBackend struct {
	Frequency       float64
	SampleRate      float64
	Amplitude       float32
	Noise           float32
	FramesPerPacket int
	// Paced delivers packets at real-time rate instead of as fast as the
	// ring accepts them.
	Paced bool
	// MaxPackets ends the capture with io.EOF after that many packets. Zero
	// means unbounded.
	MaxPackets int

	src    *audio.SineSource
	pkt    *audio.Packet
	ticker *time.Ticker
	sent   int
}

// NewSyntheticBackend returns a paced 512-frame tone generator.
func NewSyntheticBackend(frequency, sampleRate float64) *SyntheticBackend {
	return &SyntheticBackend{
		Frequency:       frequency,
		SampleRate:      sampleRate,
		Amplitude:       audio.ToneAmplitude,
		FramesPerPacket: 512,
		Paced:           true,
	}
}

func (b *SyntheticBackend) Name() string { return "synthetic" }

func (b *SyntheticBackend) Open(ctx context.Context) error {
	if b.SampleRate <= 0 || b.Frequency <= 0 {
		return newError(UnsupportedFormat, "synthetic", errInvalidToneParams)
	}
	if b.FramesPerPacket <= 0 || b.FramesPerPacket > audio.MaxPacketFrames {
		b.FramesPerPacket = 512
	}
	b.src = audio.NewSineSource(b.Frequency, b.SampleRate, b.Amplitude, b.Noise, 1)
	b.pkt = audio.AcquirePacket()
	b.sent = 0
	if b.Paced {
		period := time.Duration(float64(b.FramesPerPacket) / b.SampleRate * float64(time.Second))
		b.ticker = time.NewTicker(period)
	}
	return nil
}

func (b *SyntheticBackend) Read(ctx context.Context) (audio.Packet, error) {
	if b.MaxPackets > 0 && b.sent >= b.MaxPackets {
		return nil, io.EOF
	}
	if b.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.ticker.C:
		}
	}

	p := (*b.pkt)[:b.FramesPerPacket]
	b.src.Fill(p)
	b.sent++
	return p, nil
}

func (b *SyntheticBackend) Close() error {
	if b.ticker != nil {
		b.ticker.Stop()
		b.ticker = nil
	}
	if b.pkt != nil {
		audio.ReleasePacket(b.pkt)
		b.pkt = nil
	}
	return nil
}
