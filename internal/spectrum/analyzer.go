// Package spectrum turns the live sample stream into a Hann-windowed
// magnitude spectrum with ranked peaks and a rolling history.
package spectrum

import (
	"github.com/mjibson/go-dsp/window"

	"github.com/jotoft/loopback-visualizer/internal/fft"
)

// Config tunes an Analyzer. FFTSize is rounded up to a power of two.
type Config struct {
	FFTSize       int     `json:"fftSize"`
	SampleRate    float64 `json:"sampleRate"`
	HistorySize   int     `json:"historySize"`
	PeakThreshold float64 `json:"peakThreshold"`
	MaxPeaks      int     `json:"maxPeaks"`
}

// DefaultConfig is a 2048-point analysis at 44.1 kHz.
func DefaultConfig() Config {
	return Config{
		FFTSize:       2048,
		SampleRate:    44100,
		HistorySize:   50,
		PeakThreshold: 0.1,
		MaxPeaks:      5,
	}
}

func (c Config) normalize() Config {
	if c.FFTSize < 4 {
		c.FFTSize = 4
	}
	c.FFTSize = fft.NextPowerOfTwo(c.FFTSize)
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.HistorySize < 1 {
		c.HistorySize = 1
	}
	if c.MaxPeaks < 0 {
		c.MaxPeaks = 0
	}
	return c
}

// FrequencyState is the result of the latest analysis.
type FrequencyState struct {
	// Magnitudes has FFTSize bins normalized by FFTSize.
	Magnitudes        []float64  `json:"magnitudes"`
	Peaks             []fft.Peak `json:"peaks"`
	DominantFrequency float64    `json:"dominantFrequency"`
	// TotalEnergy sums squared magnitudes up to Nyquist.
	TotalEnergy float64 `json:"totalEnergy"`
}

// Analyzer is owned by a single goroutine.
type Analyzer struct {
	cfg Config

	buf      []float32
	writePos int
	pending  int
	hann     []float64
	work     []complex128

	state FrequencyState

	// spectra and peaks are rings of HistorySize entries; head is the next
	// slot to overwrite.
	spectra [][]float64
	peaks   [][]fft.Peak
	head    int
	filled  int
}

// New creates an analyzer with empty history.
func New(cfg Config) *Analyzer {
	a := &Analyzer{}
	a.SetConfig(cfg)
	return a
}

// SetConfig applies cfg. A new FFT size clears the sample buffer and all
// history; a new history size keeps the most recent entries.
func (a *Analyzer) SetConfig(cfg Config) {
	cfg = cfg.normalize()
	old := a.cfg
	a.cfg = cfg

	if cfg.FFTSize != old.FFTSize {
		n := cfg.FFTSize
		a.buf = make([]float32, n)
		a.writePos = 0
		a.pending = 0
		a.hann = window.Hann(n)
		a.work = make([]complex128, n)
		a.state = FrequencyState{Magnitudes: make([]float64, n)}
		a.spectra = make([][]float64, cfg.HistorySize)
		a.peaks = make([][]fft.Peak, cfg.HistorySize)
		a.head, a.filled = 0, 0
		return
	}
	if cfg.HistorySize != old.HistorySize {
		spectra, peaks := a.SpectrumHistory(), a.PeakHistory()
		if len(spectra) > cfg.HistorySize {
			spectra = spectra[len(spectra)-cfg.HistorySize:]
			peaks = peaks[len(peaks)-cfg.HistorySize:]
		}
		a.spectra = make([][]float64, cfg.HistorySize)
		a.peaks = make([][]fft.Peak, cfg.HistorySize)
		copy(a.spectra, spectra)
		copy(a.peaks, peaks)
		a.filled = len(spectra)
		a.head = a.filled % cfg.HistorySize
	}
}

// Config returns the normalized configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// ProcessSamples appends samples and re-analyzes once at least FFTSize/4
// new samples have arrived since the previous analysis. It reports whether
// an analysis ran.
func (a *Analyzer) ProcessSamples(samples []float32) bool {
	n := len(a.buf)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	c := copy(a.buf[a.writePos:], samples)
	copy(a.buf, samples[c:])
	a.writePos = (a.writePos + len(samples)) % n

	a.pending += len(samples)
	if a.pending < n/4 {
		return false
	}
	a.pending = 0
	a.analyze()
	return true
}

func (a *Analyzer) analyze() {
	n := len(a.buf)
	for i := 0; i < n; i++ {
		v := float64(a.buf[(a.writePos+i)%n]) * a.hann[i]
		a.work[i] = complex(v, 0)
	}
	// n is a power of two by construction
	_ = fft.Forward(a.work)

	// reuse the slot about to be evicted from history
	mags := a.spectra[a.head]
	mags = fft.Magnitudes(mags, a.work)
	scale := 1 / float64(n)
	var energy float64
	for i := range mags {
		mags[i] *= scale
		if i < n/2 {
			energy += mags[i] * mags[i]
		}
	}

	peaks := fft.FindPeaks(mags, a.cfg.SampleRate, a.cfg.PeakThreshold, a.cfg.MaxPeaks)
	dominant := 0.0
	if len(peaks) > 0 {
		dominant = peaks[0].Frequency
	}

	a.state = FrequencyState{
		Magnitudes:        mags,
		Peaks:             peaks,
		DominantFrequency: dominant,
		TotalEnergy:       energy,
	}

	a.spectra[a.head] = mags
	a.peaks[a.head] = peaks
	a.head = (a.head + 1) % len(a.spectra)
	if a.filled < len(a.spectra) {
		a.filled++
	}
}

// State returns the latest analysis. Its slices are owned by the analyzer
// and stay valid until the entry falls out of history.
func (a *Analyzer) State() FrequencyState {
	return a.state
}

// SpectrumHistory returns past spectra, oldest first.
func (a *Analyzer) SpectrumHistory() [][]float64 {
	out := make([][]float64, 0, a.filled)
	start := (a.head - a.filled + len(a.spectra)) % len(a.spectra)
	for i := 0; i < a.filled; i++ {
		out = append(out, a.spectra[(start+i)%len(a.spectra)])
	}
	return out
}

// PeakHistory returns past peak lists, oldest first.
func (a *Analyzer) PeakHistory() [][]fft.Peak {
	out := make([][]fft.Peak, 0, a.filled)
	start := (a.head - a.filled + len(a.peaks)) % len(a.peaks)
	for i := 0; i < a.filled; i++ {
		out = append(out, a.peaks[(start+i)%len(a.peaks)])
	}
	return out
}
