package filters

import "math"

// Envelope follower coefficients for the de-esser detector.
const (
	deesserAttack  = 0.001
	deesserRelease = 0.01
)

// Config selects and tunes the stages of a Bank. Frequencies are in Hz.
type Config struct {
	HighpassEnabled bool    `json:"highpassEnabled"`
	HighpassCutoff  float64 `json:"highpassCutoff"`
	HighpassQ       float64 `json:"highpassQ"`

	LowpassEnabled bool    `json:"lowpassEnabled"`
	LowpassCutoff  float64 `json:"lowpassCutoff"`
	LowpassQ       float64 `json:"lowpassQ"`

	DeesserEnabled   bool    `json:"deesserEnabled"`
	DeesserFrequency float64 `json:"deesserFrequency"`
	DeesserThreshold float64 `json:"deesserThreshold"`
	DeesserRatio     float64 `json:"deesserRatio"`
	DeesserBandwidth float64 `json:"deesserBandwidth"`

	SampleRate float64 `json:"sampleRate"`
	// Gain is applied after the filter stages and before soft clipping.
	Gain float64 `json:"gain"`
}

// DefaultConfig enables only a gentle 90 Hz high-pass.
func DefaultConfig() Config {
	return Config{
		HighpassEnabled:  true,
		HighpassCutoff:   90,
		HighpassQ:        0.5,
		LowpassCutoff:    8000,
		LowpassQ:         0.707,
		DeesserFrequency: 5000,
		DeesserThreshold: 0.5,
		DeesserRatio:     0.5,
		DeesserBandwidth: 2000,
		SampleRate:       44100,
		Gain:             1,
	}
}

// Bank runs high-pass, low-pass and de-esser stages in that order over a
// mono stream. Not safe for concurrent use.
type Bank struct {
	cfg Config

	highpass Biquad
	lowpass  Biquad
	detector Biquad
	envelope float32
}

// NewBank designs all stages for cfg.
func NewBank(cfg Config) *Bank {
	b := &Bank{cfg: cfg}
	b.updateHighpass()
	b.updateLowpass()
	b.updateDeesser()
	return b
}

// Active reports whether any stage or a non-unity gain is enabled.
func (b *Bank) Active() bool {
	return b.cfg.HighpassEnabled || b.cfg.LowpassEnabled || b.cfg.DeesserEnabled || b.gain() != 1
}

func (b *Bank) gain() float32 {
	if b.cfg.Gain == 0 {
		return 1
	}
	return float32(b.cfg.Gain)
}

// Process filters samples in place.
func (b *Bank) Process(samples []float32) {
	gain := b.gain()
	thr := float32(b.cfg.DeesserThreshold)
	ratio := float32(b.cfg.DeesserRatio)
	headroom := 1 - thr

	for i, x := range samples {
		if b.cfg.HighpassEnabled {
			x = b.highpass.Tick(x)
		}
		if b.cfg.LowpassEnabled {
			x = b.lowpass.Tick(x)
		}
		if b.cfg.DeesserEnabled {
			level := abs32(b.detector.Tick(x))
			if level > b.envelope {
				b.envelope = level*deesserAttack + b.envelope*(1-deesserAttack)
			} else {
				b.envelope = level*deesserRelease + b.envelope*(1-deesserRelease)
			}
			if b.envelope > thr && headroom > 0 {
				// full reduction mutes, it never inverts
				x *= 1 - min(ratio*(b.envelope-thr)/headroom, 1)
			}
		}
		samples[i] = softClip(x * gain)
	}
}

// ProcessCopy filters a copy of samples and leaves the input untouched.
func (b *Bank) ProcessCopy(samples []float32) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	b.Process(out)
	return out
}

// Reset zeroes all filter state and the de-esser envelope. Coefficients are
// kept.
func (b *Bank) Reset() {
	b.highpass.Reset()
	b.lowpass.Reset()
	b.detector.Reset()
	b.envelope = 0
}

// SetConfig applies cfg, redesigning only the stages whose frequency, Q or
// sample rate changed.
func (b *Bank) SetConfig(cfg Config) {
	old := b.cfg
	b.cfg = cfg

	rate := cfg.SampleRate != old.SampleRate
	if rate || cfg.HighpassCutoff != old.HighpassCutoff || cfg.HighpassQ != old.HighpassQ {
		b.updateHighpass()
	}
	if rate || cfg.LowpassCutoff != old.LowpassCutoff || cfg.LowpassQ != old.LowpassQ {
		b.updateLowpass()
	}
	if rate || cfg.DeesserFrequency != old.DeesserFrequency || cfg.DeesserBandwidth != old.DeesserBandwidth {
		b.updateDeesser()
	}
}

// Config returns the active configuration.
func (b *Bank) Config() Config {
	return b.cfg
}

// DeesserEnvelope returns the current detector envelope level.
func (b *Bank) DeesserEnvelope() float32 {
	return b.envelope
}

func (b *Bank) updateHighpass() {
	b.highpass.SetHighpass(b.cfg.SampleRate, b.cfg.HighpassCutoff, b.cfg.HighpassQ)
}

func (b *Bank) updateLowpass() {
	b.lowpass.SetLowpass(b.cfg.SampleRate, b.cfg.LowpassCutoff, b.cfg.LowpassQ)
}

func (b *Bank) updateDeesser() {
	b.detector.SetBandpass(b.cfg.SampleRate, b.cfg.DeesserFrequency, b.cfg.DeesserBandwidth)
}

// softClip maps |x| > 1 smoothly back under 1.
func softClip(x float32) float32 {
	switch {
	case x > 1:
		return 1 - float32(math.Exp(-float64(x)))
	case x < -1:
		return -1 + float32(math.Exp(float64(x)))
	}
	return x
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
