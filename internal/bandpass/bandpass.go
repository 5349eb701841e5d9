// Package bandpass restricts a block of samples to a frequency band by
// masking its spectrum, using 50% overlap-add with a Hann window for both
// analysis and synthesis.
package bandpass

import (
	"math"

	"github.com/mjibson/go-dsp/window"

	"github.com/jotoft/loopback-visualizer/internal/fft"
)

// TransitionWidth is the width in Hz of the raised-cosine band edges.
const TransitionWidth = 50.0

// Config describes the pass band. FFTSize is rounded up to a power of two.
type Config struct {
	FFTSize    int
	SampleRate float64
	LowHz      float64
	HighHz     float64
	// Smooth selects raised-cosine edges instead of a brick wall.
	Smooth bool
}

// DefaultConfig passes 100 Hz to 1 kHz with smooth edges.
func DefaultConfig() Config {
	return Config{
		FFTSize:    2048,
		SampleRate: 44100,
		LowHz:      100,
		HighHz:     1000,
		Smooth:     true,
	}
}

// Filter is a block band-pass. Each Apply call is independent. Not safe for
// concurrent use.
type Filter struct {
	cfg  Config
	mask []float64
	hann []float64
	buf  []complex128
	acc  []float64
	norm []float64
}

// New builds a filter for cfg.
func New(cfg Config) *Filter {
	f := &Filter{}
	f.SetConfig(cfg)
	return f
}

// SetConfig replaces the configuration and rebuilds the mask and window.
func (f *Filter) SetConfig(cfg Config) {
	if cfg.FFTSize < 2 {
		cfg.FFTSize = 2
	}
	cfg.FFTSize = fft.NextPowerOfTwo(cfg.FFTSize)
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	f.cfg = cfg
	f.hann = window.Hann(cfg.FFTSize)
	f.buf = make([]complex128, cfg.FFTSize)
	f.mask = make([]float64, cfg.FFTSize)
	f.buildMask()
}

// Config returns the active configuration.
func (f *Filter) Config() Config {
	return f.cfg
}

// SetRange changes the pass band without reallocating.
func (f *Filter) SetRange(lowHz, highHz float64) {
	f.cfg.LowHz = lowHz
	f.cfg.HighHz = highHz
	f.buildMask()
}

// Window returns the per-bin gain mask. Callers must not modify it.
func (f *Filter) Window() []float64 {
	return f.mask
}

func (f *Filter) buildMask() {
	n := f.cfg.FFTSize
	res := f.cfg.SampleRate / float64(n)
	lo, hi := f.cfg.LowHz, f.cfg.HighHz
	for i := range f.mask {
		k := i
		if i > n/2 {
			k = n - i
		}
		freq := float64(k) * res

		gain := 0.0
		if freq >= lo && freq <= hi {
			gain = 1
			if f.cfg.Smooth {
				if freq < lo+TransitionWidth {
					gain *= raisedCosine(freq, lo)
				}
				if freq > hi-TransitionWidth {
					gain *= raisedCosine(hi, freq)
				}
			}
		}
		f.mask[i] = gain
	}
}

// raisedCosine rises from 0 at x == edge to 1 at x == edge+TransitionWidth.
func raisedCosine(x, edge float64) float64 {
	t := (x - edge) / TransitionWidth
	t = math.Max(-1, math.Min(1, t))
	return 0.5 * (1 + math.Cos(math.Pi*(1-t)))
}

// Apply returns the band-limited version of samples, the same length as
// the input.
func (f *Filter) Apply(samples []float32) []float32 {
	out := make([]float32, len(samples))
	f.ApplyTo(out, samples)
	return out
}

// ApplyTo writes the band-limited version of src into dst, which must be at
// least len(src) long.
func (f *Filter) ApplyTo(dst, src []float32) {
	count := len(src)
	n := f.cfg.FFTSize
	hop := n / 2

	total := count + n
	if cap(f.acc) < total {
		f.acc = make([]float64, total)
		f.norm = make([]float64, total)
	}
	acc := f.acc[:total]
	norm := f.norm[:total]
	for i := range acc {
		acc[i] = 0
		norm[i] = 0
	}

	for pos := 0; pos+n <= count+hop; pos += hop {
		for i := 0; i < n; i++ {
			v := 0.0
			if pos+i < count {
				v = float64(src[pos+i]) * f.hann[i]
			}
			f.buf[i] = complex(v, 0)
		}
		// Sizes are always powers of two here.
		_ = fft.Forward(f.buf)
		for i, g := range f.mask {
			f.buf[i] *= complex(g, 0)
		}
		_ = fft.Inverse(f.buf)
		for i := 0; i < n; i++ {
			w := f.hann[i]
			acc[pos+i] += real(f.buf[i]) * w
			norm[pos+i] += w * w
		}
	}

	for i := 0; i < count; i++ {
		if norm[i] > 0 {
			dst[i] = float32(acc[i] / norm[i])
		} else {
			dst[i] = 0
		}
	}
}
