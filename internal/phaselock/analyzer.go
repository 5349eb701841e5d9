// Package phaselock stabilizes a scrolling waveform display. It keeps a
// private history of recent samples, learns a reference template of the
// waveform shape, and each frame moves a read cursor to the historical
// offset that best matches the template by normalized cross-correlation.
package phaselock

import (
	"math"

	"github.com/jotoft/loopback-visualizer/internal/bandpass"
)

// State is the result of one Analyze call.
type State struct {
	BestCorrelation float64 `json:"bestCorrelation" msgpack:"bestCorrelation"`
	HasLock         bool    `json:"hasLock" msgpack:"hasLock"`
	// ReadPosition indexes the phase buffer; DisplaySamples values from
	// there, wrapping at the buffer end, form the display window.
	ReadPosition int `json:"readPosition" msgpack:"readPosition"`
}

// Analyzer is owned by a single goroutine and is not safe for concurrent
// use.
type Analyzer struct {
	cfg Config

	buf      []float32
	writePos int
	// written counts every sample ever added and places template sources
	// in absolute stream time.
	written int64

	filter   *bandpass.Filter
	filtered []float32
	unrolled []float32

	reference    []float32
	accumulator  []float64
	refCount     int
	hasReference bool
	// sources holds the absolute start of every segment folded into the
	// reference that a future search can still reach.
	sources []int64

	positioned       bool
	phaseOffset      int
	targetOffset     int
	framesSinceMatch int
	lastBest         float64
	history          []float64
	lastReadPosition int
}

// New creates an analyzer. Invalid settings are corrected, see Config.
func New(cfg Config) *Analyzer {
	cfg = cfg.normalize()
	a := &Analyzer{cfg: cfg}
	a.buf = make([]float32, cfg.PhaseBufferSize)
	a.reference = make([]float32, cfg.WindowSize)
	a.accumulator = make([]float64, cfg.WindowSize)
	a.history = make([]float64, 0, cfg.HistoryLength)
	a.configureFilter()
	return a
}

func (a *Analyzer) configureFilter() {
	if !a.cfg.UseFrequencyFilter {
		a.filter = nil
		a.filtered = nil
		a.unrolled = nil
		return
	}
	fc := bandpass.DefaultConfig()
	fc.SampleRate = a.cfg.SampleRate
	fc.LowHz = a.cfg.FilterLowHz
	fc.HighHz = a.cfg.FilterHighHz
	if a.filter == nil {
		a.filter = bandpass.New(fc)
	} else {
		a.filter.SetConfig(fc)
	}
	a.filtered = make([]float32, a.cfg.PhaseBufferSize)
	a.unrolled = make([]float32, a.cfg.PhaseBufferSize)
}

// AddSamples appends samples to the phase buffer, overwriting the oldest.
func (a *Analyzer) AddSamples(samples []float32) {
	size := len(a.buf)
	if len(samples) > size {
		a.written += int64(len(samples) - size)
		samples = samples[len(samples)-size:]
	}
	n := copy(a.buf[a.writePos:], samples)
	copy(a.buf, samples[n:])
	a.writePos = (a.writePos + len(samples)) % size
	a.written += int64(len(samples))
}

// latest returns the read position of the most recent display window.
func (a *Analyzer) latest() int {
	size := len(a.buf)
	return ((a.writePos-a.cfg.DisplaySamples)%size + size) % size
}

// Analyze runs one frame of the lock loop. With enabled false it clears all
// lock state and returns the most recent window.
func (a *Analyzer) Analyze(enabled bool) State {
	if !enabled {
		a.clearLock()
		a.lastReadPosition = a.latest()
		return State{ReadPosition: a.lastReadPosition}
	}

	signal := a.buf
	if a.filter != nil {
		a.applyFilter()
		signal = a.filtered
	}

	if !a.hasReference {
		a.seedReference(signal)
	}

	size := len(a.buf)
	rng := a.cfg.SearchRange
	searchStart := ((a.writePos-a.cfg.DisplaySamples-rng)%size + size) % size
	// absolute stream position of offset 0
	absStart := a.written - int64(a.cfg.DisplaySamples+rng)
	a.pruneSources(absStart)

	best := -1.0
	bestOffset := 0
	found := false
	consider := func(off int) {
		if a.isSource(absStart + int64(off)) {
			return
		}
		c := a.correlate(signal, (searchStart+off)%size)
		if !found || c > best {
			best, bestOffset, found = c, off, true
		}
	}
	for off := 0; off < rng; off += a.cfg.CoarseStep {
		consider(off)
	}
	r := a.cfg.FineRadius
	if found && r > 0 && bestOffset > r && bestOffset < rng-r {
		center := bestOffset
		for off := center - r; off <= center+r; off++ {
			if off != center {
				consider(off)
			}
		}
	}
	if !found {
		best = 0
	}

	st := State{BestCorrelation: best}
	if best > a.cfg.CorrelationThreshold {
		st.HasLock = true
		a.framesSinceMatch = 0
		if math.Abs(best-a.lastBest) > a.cfg.UpdateDelta {
			a.blend(signal, (searchStart+bestOffset)%size, absStart+int64(bestOffset))
		}
		a.targetOffset = (searchStart + bestOffset) % size
	} else {
		a.framesSinceMatch++
		if a.framesSinceMatch > a.cfg.ReferenceTimeoutFrames {
			a.hasReference = false
			a.framesSinceMatch = 0
		}
		a.targetOffset = a.latest()
	}
	a.lastBest = best

	a.pushHistory(best)
	a.steer()
	st.ReadPosition = a.phaseOffset
	a.lastReadPosition = a.phaseOffset
	return st
}

// isSource reports whether a candidate window starting at absolute position
// pos lies within SelfMatchRadius of a segment already in the reference.
// Such a candidate correlates with its own copy, so on noise it would
// sustain a lock it fed itself.
func (a *Analyzer) isSource(pos int64) bool {
	if !a.hasReference {
		return false
	}
	r := int64(a.cfg.SelfMatchRadius)
	for _, src := range a.sources {
		if d := pos - src; d >= -r && d <= r {
			return true
		}
	}
	return false
}

// pruneSources forgets sources that lie before every candidate from
// absStart on.
func (a *Analyzer) pruneSources(absStart int64) {
	r := int64(a.cfg.SelfMatchRadius)
	kept := a.sources[:0]
	for _, src := range a.sources {
		if src+r >= absStart {
			kept = append(kept, src)
		}
	}
	a.sources = kept
}

func (a *Analyzer) correlate(signal []float32, start int) float64 {
	size := len(signal)
	var dot, sigE, refE float64
	for i, r := range a.reference {
		s := float64(signal[(start+i)%size])
		rf := float64(r)
		dot += s * rf
		sigE += s * s
		refE += rf * rf
	}
	if sigE <= 0 || refE <= 0 {
		return 0
	}
	return dot / math.Sqrt(sigE*refE)
}

// seedReference copies the most recent WindowSize samples into the
// reference. A silent seed leaves the analyzer without a reference so the
// next frame tries again.
func (a *Analyzer) seedReference(signal []float32) {
	size := len(signal)
	w := a.cfg.WindowSize
	start := ((a.writePos-w)%size + size) % size
	var energy float64
	for i := range a.reference {
		v := signal[(start+i)%size]
		a.reference[i] = v
		a.accumulator[i] = float64(v)
		energy += float64(v) * float64(v)
	}
	a.framesSinceMatch = 0
	a.sources = a.sources[:0]
	if energy == 0 {
		a.hasReference = false
		a.refCount = 0
		return
	}
	a.hasReference = true
	a.refCount = 1
	a.sources = append(a.sources, a.written-int64(w))
}

// blend folds the matched segment at ring index start, absolute position
// pos, into the reference.
func (a *Analyzer) blend(signal []float32, start int, pos int64) {
	size := len(signal)
	a.sources = append(a.sources, pos)
	switch a.cfg.ReferenceMode {
	case EMA:
		alpha := float32(a.cfg.EMAAlpha)
		for i := range a.reference {
			a.reference[i] = (1-alpha)*a.reference[i] + alpha*signal[(start+i)%size]
		}
		a.refCount++
	default:
		if a.refCount >= a.cfg.ResetCount {
			for i, v := range a.reference {
				a.accumulator[i] = float64(v)
			}
			a.refCount = 1
		}
		a.refCount++
		inv := 1 / float64(a.refCount)
		for i := range a.reference {
			a.accumulator[i] += float64(signal[(start+i)%size])
			a.reference[i] = float32(a.accumulator[i] * inv)
		}
	}
}

// steer moves the read cursor toward the target along the shorter way
// around the buffer. The first update jumps.
func (a *Analyzer) steer() {
	if !a.positioned {
		a.phaseOffset = a.targetOffset
		a.positioned = true
		return
	}
	size := len(a.buf)
	diff := a.targetOffset - a.phaseOffset
	if diff > size/2 {
		diff -= size
	} else if diff < -size/2 {
		diff += size
	}
	step := int(float64(diff) * (1 - a.cfg.PhaseSmoothing))
	a.phaseOffset = ((a.phaseOffset+step)%size + size) % size
}

func (a *Analyzer) pushHistory(c float64) {
	if len(a.history) >= a.cfg.HistoryLength {
		n := copy(a.history, a.history[len(a.history)-a.cfg.HistoryLength+1:])
		a.history = a.history[:n]
	}
	a.history = append(a.history, c)
}

// applyFilter band-limits the whole phase buffer in chronological order and
// stores the result under the same circular indexing.
func (a *Analyzer) applyFilter() {
	size := len(a.buf)
	n := copy(a.unrolled, a.buf[a.writePos:])
	copy(a.unrolled[n:], a.buf[:a.writePos])
	a.filter.ApplyTo(a.unrolled, a.unrolled)
	n = copy(a.filtered[a.writePos:], a.unrolled)
	copy(a.filtered[:a.writePos], a.unrolled[n:size])
}

func (a *Analyzer) clearLock() {
	a.hasReference = false
	a.refCount = 0
	a.sources = a.sources[:0]
	a.positioned = false
	a.phaseOffset = 0
	a.targetOffset = 0
	a.framesSinceMatch = 0
	a.lastBest = 0
	a.history = a.history[:0]
}

// Reset clears the sample history and all lock state.
func (a *Analyzer) Reset() {
	for i := range a.buf {
		a.buf[i] = 0
	}
	for i := range a.filtered {
		a.filtered[i] = 0
	}
	a.writePos = 0
	a.written = 0
	a.clearLock()
	a.lastReadPosition = 0
}

// SetConfig applies cfg. A new phase buffer size reallocates and clears the
// history; a new window size reallocates the reference and forces a reseed.
func (a *Analyzer) SetConfig(cfg Config) {
	cfg = cfg.normalize()
	old := a.cfg
	a.cfg = cfg

	if cfg.PhaseBufferSize != old.PhaseBufferSize {
		a.buf = make([]float32, cfg.PhaseBufferSize)
		a.filtered = nil
		a.Reset()
	}
	if cfg.WindowSize != old.WindowSize {
		a.reference = make([]float32, cfg.WindowSize)
		a.accumulator = make([]float64, cfg.WindowSize)
		a.hasReference = false
		a.refCount = 0
	}
	if cfg.HistoryLength < len(a.history) {
		a.history = append(a.history[:0], a.history[len(a.history)-cfg.HistoryLength:]...)
	}
	if cfg.UseFrequencyFilter != old.UseFrequencyFilter ||
		cfg.FilterLowHz != old.FilterLowHz || cfg.FilterHighHz != old.FilterHighHz ||
		cfg.SampleRate != old.SampleRate || cfg.PhaseBufferSize != old.PhaseBufferSize {
		a.configureFilter()
		a.hasReference = false
	}
}

// Config returns the normalized configuration in use.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// PhaseBuffer returns the circular sample history. Callers must not modify
// it.
func (a *Analyzer) PhaseBuffer() []float32 {
	return a.buf
}

// PhaseBufferSize returns len(PhaseBuffer()).
func (a *Analyzer) PhaseBufferSize() int {
	return len(a.buf)
}

// FilteredBuffer returns the band-limited history used for correlation, or
// nil when the frequency filter is off.
func (a *Analyzer) FilteredBuffer() []float32 {
	return a.filtered
}

// CorrelationHistory returns best correlations, oldest first.
func (a *Analyzer) CorrelationHistory() []float64 {
	return a.history
}

// ReferenceWindow returns the current template. Only meaningful when
// HasReference is true.
func (a *Analyzer) ReferenceWindow() []float32 {
	return a.reference
}

func (a *Analyzer) HasReference() bool {
	return a.hasReference
}

// ReferenceCount is the number of segments folded into the template since
// it was seeded or last restarted.
func (a *Analyzer) ReferenceCount() int {
	return a.refCount
}

func (a *Analyzer) EMAAlpha() float64 {
	return a.cfg.EMAAlpha
}

// SetEMAAlpha clamps alpha to [MinEMAAlpha, MaxEMAAlpha].
func (a *Analyzer) SetEMAAlpha(alpha float64) {
	a.cfg.EMAAlpha = clamp(alpha, MinEMAAlpha, MaxEMAAlpha)
}

// DisplayWindow copies DisplaySamples values starting at the last returned
// read position into dst, unwrapping the circular buffer.
func (a *Analyzer) DisplayWindow(dst []float32) []float32 {
	n := a.cfg.DisplaySamples
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	size := len(a.buf)
	pos := a.lastReadPosition % size
	c := copy(dst, a.buf[pos:])
	for c < n {
		c += copy(dst[c:], a.buf)
	}
	return dst
}
