package audio

import (
	"math"
	"math/rand"
)

const (
	DefaultSampleRate = 44100
	ToneFrequency     = 440.0
	ToneAmplitude     = 0.8
)

// GenerateSineWave produces n mono samples of a sine at frequency Hz.
func GenerateSineWave(n int, frequency, sampleRate float64, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = amplitude * float32(math.Sin(2*math.Pi*frequency*t))
	}
	return out
}

// SineSource generates a phase-continuous stereo sine, optionally mixed
// with white noise, one packet at a time.
type SineSource struct {
	Frequency  float64
	SampleRate float64
	Amplitude  float32
	Noise      float32 // peak noise amplitude, 0 disables

	phase float64
	rng   *rand.Rand
}

// NewSineSource creates a source with a deterministic noise seed.
func NewSineSource(frequency, sampleRate float64, amplitude, noise float32, seed int64) *SineSource {
	return &SineSource{
		Frequency:  frequency,
		SampleRate: sampleRate,
		Amplitude:  amplitude,
		Noise:      noise,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Fill overwrites every frame of p and advances the oscillator.
func (s *SineSource) Fill(p Packet) {
	step := 2 * math.Pi * s.Frequency / s.SampleRate
	for i := range p {
		v := s.Amplitude * float32(math.Sin(s.phase))
		if s.Noise > 0 {
			v += s.Noise * (2*s.rng.Float32() - 1)
		}
		p[i] = StereoFrame{Left: v, Right: v}
		s.phase += step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

// WhiteNoise returns n uniformly distributed samples in [-amplitude, amplitude].
func WhiteNoise(n int, amplitude float32, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * (2*rng.Float32() - 1)
	}
	return out
}
