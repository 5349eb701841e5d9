package phaselock

import (
	"math"

	"github.com/jotoft/loopback-visualizer/internal/filters"
)

// BandConfig describes one template bank: a filter chain that conditions
// the shared input and the analyzer that tracks the result.
type BandConfig struct {
	Name      string         `json:"name"`
	Filters   filters.Config `json:"filters"`
	PhaseLock Config         `json:"phaseLock"`
}

// BandState pairs an Analyze result with the band it came from.
type BandState struct {
	Name string `json:"name" msgpack:"name"`
	State
}

// DefaultBands returns the three-bank layout: a large template above
// 40 Hz, a medium one above 160 Hz and a small one above 640 Hz, with
// makeup gain on the upper banks. Each band's threshold is at least the
// NoiseThreshold of its window.
func DefaultBands(sampleRate float64, displaySamples int) []BandConfig {
	type layout struct {
		name   string
		cutoff float64
		q      float64
		gain   float64
		window int
		alpha  float64
	}
	layouts := []layout{
		{"bass", 40, 0.5, 1, 2048, 0.1},
		{"mid", 160, 0.7, 2, 1024, 0.12},
		{"high", 640, 0.7, 3, 512, 0.15},
	}

	bands := make([]BandConfig, 0, len(layouts))
	for _, s := range layouts {
		fc := filters.DefaultConfig()
		fc.SampleRate = sampleRate
		fc.HighpassCutoff = s.cutoff
		fc.HighpassQ = s.q
		fc.Gain = s.gain

		pc := DefaultConfig()
		pc.SampleRate = sampleRate
		pc.CorrelationThreshold = math.Max(0.15, NoiseThreshold(s.window))
		pc.WindowSize = s.window
		pc.DisplaySamples = displaySamples
		pc.ReferenceMode = EMA
		pc.EMAAlpha = s.alpha

		bands = append(bands, BandConfig{Name: s.name, Filters: fc, PhaseLock: pc})
	}
	return bands
}

// NoiseThreshold returns six standard deviations of the correlation between
// a template of windowSize samples and independent white noise. Thresholds
// below it let noise lock a band.
func NoiseThreshold(windowSize int) float64 {
	if windowSize < 1 {
		return 1
	}
	return 6 / math.Sqrt(float64(windowSize))
}

// SingleBand returns one unfiltered band with the default analyzer.
func SingleBand(sampleRate float64, displaySamples int) []BandConfig {
	fc := filters.DefaultConfig()
	fc.SampleRate = sampleRate
	pc := DefaultConfig()
	pc.SampleRate = sampleRate
	pc.DisplaySamples = displaySamples
	return []BandConfig{{Name: "main", Filters: fc, PhaseLock: pc}}
}

type band struct {
	name     string
	filters  *filters.Bank
	analyzer *Analyzer
}

// Bank runs independent analyzers over separately filtered copies of the
// same input. Bands share no state.
type Bank struct {
	bands   []*band
	scratch []float32
}

// NewBank builds one filter chain and analyzer per band.
func NewBank(configs []BandConfig) *Bank {
	b := &Bank{bands: make([]*band, 0, len(configs))}
	for _, c := range configs {
		b.bands = append(b.bands, &band{
			name:     c.Name,
			filters:  filters.NewBank(c.Filters),
			analyzer: New(c.PhaseLock),
		})
	}
	return b
}

// AddSamples filters a copy of samples for each band and feeds its
// analyzer. samples is not modified.
func (b *Bank) AddSamples(samples []float32) {
	for _, bd := range b.bands {
		if !bd.filters.Active() {
			bd.analyzer.AddSamples(samples)
			continue
		}
		b.scratch = append(b.scratch[:0], samples...)
		bd.filters.Process(b.scratch)
		bd.analyzer.AddSamples(b.scratch)
	}
}

// Analyze runs every band and appends the results to dst.
func (b *Bank) Analyze(dst []BandState, enabled bool) []BandState {
	for _, bd := range b.bands {
		dst = append(dst, BandState{Name: bd.name, State: bd.analyzer.Analyze(enabled)})
	}
	return dst
}

// Reset clears every band's filters and analyzer.
func (b *Bank) Reset() {
	for _, bd := range b.bands {
		bd.filters.Reset()
		bd.analyzer.Reset()
	}
}

// Len returns the number of bands.
func (b *Bank) Len() int {
	return len(b.bands)
}

// Name returns the name of band i.
func (b *Bank) Name(i int) string {
	return b.bands[i].name
}

// Analyzer returns the analyzer of band i.
func (b *Bank) Analyzer(i int) *Analyzer {
	return b.bands[i].analyzer
}

// Filters returns the filter chain of band i.
func (b *Bank) Filters(i int) *filters.Bank {
	return b.bands[i].filters
}
