// Package filters implements the time-domain conditioning chain applied to
// captured audio before analysis: high-pass, low-pass and a de-esser, each a
// second-order IIR section, followed by soft clipping.
package filters

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

// Biquad is a single-channel Direct Form I second-order section running in
// float32. Its coefficients are designed in float64 as a
// biquad.Coefficients normalized so that a0 == 1.
type Biquad struct {
	coef biquad.Coefficients

	b0, b1, b2 float32
	a1, a2     float32

	x1, x2 float32
	y1, y2 float32
}

// NewBiquad returns a pass-through section.
func NewBiquad() *Biquad {
	b := &Biquad{}
	b.SetCoefficients(biquad.Coefficients{B0: 1})
	return b
}

// Reset clears the delay lines without touching the coefficients.
func (b *Biquad) Reset() {
	b.x1, b.x2, b.y1, b.y2 = 0, 0, 0, 0
}

// SetCoefficients installs c, which must already be normalized by a0.
func (b *Biquad) SetCoefficients(c biquad.Coefficients) {
	b.coef = c
	b.b0 = float32(c.B0)
	b.b1 = float32(c.B1)
	b.b2 = float32(c.B2)
	b.a1 = float32(c.A1)
	b.a2 = float32(c.A2)
}

// Coefficients returns the float64 design in use.
func (b *Biquad) Coefficients() biquad.Coefficients {
	return b.coef
}

// Tick filters one sample.
func (b *Biquad) Tick(x float32) float32 {
	y := b.b0*x + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
	b.x2, b.x1 = b.x1, x
	b.y2, b.y1 = b.y1, y
	return y
}

// Process filters buf in place.
func (b *Biquad) Process(buf []float32) {
	for i, x := range buf {
		buf[i] = b.Tick(x)
	}
}

// SetHighpass configures an RBJ high-pass.
func (b *Biquad) SetHighpass(sampleRate, cutoff, q float64) {
	b.SetCoefficients(Highpass(sampleRate, cutoff, q))
}

// SetLowpass configures an RBJ low-pass.
func (b *Biquad) SetLowpass(sampleRate, cutoff, q float64) {
	b.SetCoefficients(Lowpass(sampleRate, cutoff, q))
}

// SetBandpass configures a constant 0 dB peak gain band-pass whose Q is
// derived from the bandwidth in Hz.
func (b *Biquad) SetBandpass(sampleRate, center, bandwidth float64) {
	b.SetCoefficients(Bandpass(sampleRate, center, bandwidth))
}

// Highpass designs an RBJ high-pass section.
func Highpass(sampleRate, cutoff, q float64) biquad.Coefficients {
	cosW, alpha := design(sampleRate, cutoff, q)
	return normalize(
		(1+cosW)/2, -(1 + cosW), (1+cosW)/2,
		1+alpha, -2*cosW, 1-alpha,
	)
}

// Lowpass designs an RBJ low-pass section.
func Lowpass(sampleRate, cutoff, q float64) biquad.Coefficients {
	cosW, alpha := design(sampleRate, cutoff, q)
	return normalize(
		(1-cosW)/2, 1-cosW, (1-cosW)/2,
		1+alpha, -2*cosW, 1-alpha,
	)
}

// Bandpass designs an RBJ constant 0 dB peak gain band-pass. A
// non-positive bandwidth gives Q 1.
func Bandpass(sampleRate, center, bandwidth float64) biquad.Coefficients {
	if bandwidth <= 0 {
		bandwidth = center
	}
	cosW, alpha := design(sampleRate, center, center/bandwidth)
	return normalize(
		alpha, 0, -alpha,
		1+alpha, -2*cosW, 1-alpha,
	)
}

func normalize(b0, b1, b2, a0, a1, a2 float64) biquad.Coefficients {
	inv := 1 / a0
	return biquad.Coefficients{
		B0: b0 * inv,
		B1: b1 * inv,
		B2: b2 * inv,
		A1: a1 * inv,
		A2: a2 * inv,
	}
}

const minQ = 0.01

// design clamps the frequency strictly inside (0, Nyquist) and Q above zero,
// which keeps both poles inside the unit circle for every input.
func design(sampleRate, freq, q float64) (cosW, alpha float64) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	freq = ClampFrequency(freq, sampleRate)
	if q < minQ || math.IsNaN(q) {
		q = minQ
	}
	w := 2 * math.Pi * freq / sampleRate
	return math.Cos(w), math.Sin(w) / (2 * q)
}

// ClampFrequency limits freq to [1 Hz, 0.499 * sampleRate].
func ClampFrequency(freq, sampleRate float64) float64 {
	hi := 0.499 * sampleRate
	switch {
	case math.IsNaN(freq) || freq < 1:
		return 1
	case freq > hi:
		return hi
	}
	return freq
}
