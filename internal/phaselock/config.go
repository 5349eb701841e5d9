package phaselock

import (
	"fmt"
	"strings"

	"github.com/jotoft/loopback-visualizer/internal/fft"
)

// ReferenceMode selects how good matches are folded into the reference.
type ReferenceMode int

const (
	// Accumulator keeps a true running mean of matched segments and restarts
	// it after ResetCount matches.
	Accumulator ReferenceMode = iota
	// EMA blends each match in with weight EMAAlpha.
	EMA
)

func (m ReferenceMode) String() string {
	switch m {
	case Accumulator:
		return "accumulator"
	case EMA:
		return "ema"
	}
	return fmt.Sprintf("ReferenceMode(%d)", int(m))
}

// ParseReferenceMode accepts "accumulator" or "ema".
func ParseReferenceMode(s string) (ReferenceMode, error) {
	switch strings.ToLower(s) {
	case "accumulator", "acc":
		return Accumulator, nil
	case "ema":
		return EMA, nil
	}
	return Accumulator, fmt.Errorf("unknown reference mode %q", s)
}

func (m ReferenceMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ReferenceMode) UnmarshalText(b []byte) error {
	v, err := ParseReferenceMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// EMA alpha bounds.
const (
	MinEMAAlpha = 0.01
	MaxEMAAlpha = 0.5
)

// Config tunes an Analyzer. Sizes are in samples, frame counts in calls to
// Analyze.
type Config struct {
	// PhaseSmoothing is the fraction of the cursor error kept between
	// frames, in [0, 1). Zero jumps straight to the target.
	PhaseSmoothing       float64       `json:"phaseSmoothing"`
	CorrelationThreshold float64       `json:"correlationThreshold"`
	WindowSize           int           `json:"windowSize"`
	PhaseBufferSize      int           `json:"phaseBufferSize"`
	DisplaySamples       int           `json:"displaySamples"`
	ReferenceMode        ReferenceMode `json:"referenceMode"`
	ResetCount           int           `json:"resetCount"`
	EMAAlpha             float64       `json:"emaAlpha"`

	UseFrequencyFilter bool    `json:"useFrequencyFilter"`
	FilterLowHz        float64 `json:"filterLowHz"`
	FilterHighHz       float64 `json:"filterHighHz"`
	SampleRate         float64 `json:"sampleRate"`

	SearchRange int `json:"searchRange"`
	CoarseStep  int `json:"coarseStep"`
	FineRadius  int `json:"fineRadius"`
	// SelfMatchRadius excludes candidates starting within that many samples
	// of a segment already folded into the reference. It should cover the
	// autocorrelation length of the analyzed signal.
	SelfMatchRadius int `json:"selfMatchRadius"`
	// UpdateDelta is the minimum change in best correlation between frames
	// before a match is blended into the reference.
	UpdateDelta float64 `json:"updateDelta"`
	// ReferenceTimeoutFrames invalidates the reference after that many
	// frames without a match above threshold.
	ReferenceTimeoutFrames int `json:"referenceTimeoutFrames"`
	HistoryLength          int `json:"historyLength"`
}

// DefaultConfig tracks a 300-sample template over a 4096-sample history.
func DefaultConfig() Config {
	return Config{
		PhaseSmoothing:         0,
		CorrelationThreshold:   0.45,
		WindowSize:             300,
		PhaseBufferSize:        4096,
		DisplaySamples:         2400,
		ReferenceMode:          Accumulator,
		ResetCount:             50,
		EMAAlpha:               0.1,
		FilterLowHz:            100,
		FilterHighHz:           1000,
		SampleRate:             44100,
		SearchRange:            1024,
		CoarseStep:             4,
		FineRadius:             2,
		SelfMatchRadius:        16,
		UpdateDelta:            0.01,
		ReferenceTimeoutFrames: 480,
		HistoryLength:          240,
	}
}

// normalize corrects out-of-range values instead of rejecting them. The
// phase buffer is grown to a power of two that holds the display window,
// the search range and one template.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.WindowSize < 1 {
		c.WindowSize = d.WindowSize
	}
	if c.DisplaySamples < 1 {
		c.DisplaySamples = d.DisplaySamples
	}
	if c.SearchRange < 1 {
		c.SearchRange = d.SearchRange
	}
	if c.CoarseStep < 1 {
		c.CoarseStep = 1
	}
	if c.FineRadius < 0 {
		c.FineRadius = 0
	}
	if c.SelfMatchRadius < 0 {
		c.SelfMatchRadius = 0
	}
	if c.ResetCount < 1 {
		c.ResetCount = 1
	}
	if c.HistoryLength < 1 {
		c.HistoryLength = d.HistoryLength
	}
	if c.ReferenceTimeoutFrames < 1 {
		c.ReferenceTimeoutFrames = d.ReferenceTimeoutFrames
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	c.PhaseSmoothing = clamp(c.PhaseSmoothing, 0, 0.999)
	if c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1 {
		c.CorrelationThreshold = clamp(c.CorrelationThreshold, 0.001, 1)
	}
	c.EMAAlpha = clamp(c.EMAAlpha, MinEMAAlpha, MaxEMAAlpha)

	need := c.DisplaySamples + c.SearchRange + c.WindowSize + 1
	if c.PhaseBufferSize < need {
		c.PhaseBufferSize = need
	}
	c.PhaseBufferSize = fft.NextPowerOfTwo(c.PhaseBufferSize)
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo || v != v {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
