// Package engine is the consumer side of the capture ring: once per frame it
// drains a bounded chunk, runs the phase-lock bands and the spectrum
// analyzer, and publishes an immutable Frame for renderers.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/audio"
	"github.com/jotoft/loopback-visualizer/internal/capture"
	"github.com/jotoft/loopback-visualizer/internal/fft"
	"github.com/jotoft/loopback-visualizer/internal/metrics"
	"github.com/jotoft/loopback-visualizer/internal/phaselock"
	"github.com/jotoft/loopback-visualizer/internal/spectrum"
)

// Source is the consumer view of a capture session.
type Source interface {
	ReadSamples(dst []float32) int
	AvailableSamples() int
	// Channels is 1 for a mono ring and 2 for interleaved L,R pairs.
	Channels() int
	Stats() capture.Stats
}

// Config controls the tick loop and the analyzers it owns.
type Config struct {
	FrameRate  int
	ReadChunk  int
	PhaseLock  bool
	SampleRate float64
	Bands      []phaselock.BandConfig
	Spectrum   spectrum.Config
}

// DefaultConfig runs a single band at 240 frames per second.
func DefaultConfig(sampleRate float64, displaySamples int) Config {
	sc := spectrum.DefaultConfig()
	sc.SampleRate = sampleRate
	return Config{
		FrameRate:  240,
		ReadChunk:  512,
		PhaseLock:  true,
		SampleRate: sampleRate,
		Bands:      phaselock.SingleBand(sampleRate, displaySamples),
		Spectrum:   sc,
	}
}

// BandFrame is one phase-lock band's output for a frame.
type BandFrame struct {
	Name  string          `json:"name" msgpack:"name"`
	State phaselock.State `json:"state" msgpack:"state"`
	// Window is the phase-locked display window.
	Window []float32 `json:"window" msgpack:"window"`
}

// Frame is a snapshot of one analysis tick. Frames are never modified after
// they are published.
type Frame struct {
	Seq               uint64        `json:"seq" msgpack:"seq"`
	Timestamp         time.Time     `json:"timestamp" msgpack:"timestamp"`
	SampleRate        float64       `json:"sampleRate" msgpack:"sampleRate"`
	SamplesRead       int           `json:"samplesRead" msgpack:"samplesRead"`
	Channels          int           `json:"channels" msgpack:"channels"`
	PhaseLock         bool          `json:"phaseLock" msgpack:"phaseLock"`
	Stats             capture.Stats `json:"stats" msgpack:"stats"`
	Bands             []BandFrame   `json:"bands" msgpack:"bands"`
	Spectrum          []float64     `json:"spectrum" msgpack:"spectrum"`
	Peaks             []fft.Peak    `json:"peaks" msgpack:"peaks"`
	DominantFrequency float64       `json:"dominantFrequency" msgpack:"dominantFrequency"`
	TotalEnergy       float64       `json:"totalEnergy" msgpack:"totalEnergy"`
}

// Subscription delivers published frames. Slow subscribers miss frames
// rather than stall the tick loop.
type Subscription struct {
	ID string
	C  <-chan *Frame

	ch chan *Frame
}

// Engine owns every analyzer. Tick and Run must be called from a single
// goroutine; Latest, SetPhaseLock and the subscription methods are safe
// from any goroutine.
type Engine struct {
	src    Source
	cfg    Config
	logger *zap.Logger

	bank     *phaselock.Bank
	spectrum *spectrum.Analyzer
	channels int
	chunk    []float32
	mono     []float32
	states   []phaselock.BandState
	locked   []bool
	seq      uint64
	prev     capture.Stats

	phaseLock atomic.Bool

	mu     sync.RWMutex
	latest *Frame
	subs   map[string]*Subscription
}

// New creates an engine reading from src.
func New(src Source, cfg Config, logger *zap.Logger) *Engine {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 240
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = 512
	}
	channels := src.Channels()
	if channels == 2 {
		// whole L,R pairs only
		cfg.ReadChunk = max(cfg.ReadChunk&^1, 2)
	}
	if len(cfg.Bands) == 0 {
		cfg.Bands = phaselock.SingleBand(cfg.SampleRate, phaselock.DefaultConfig().DisplaySamples)
	}
	e := &Engine{
		src:      src,
		cfg:      cfg,
		logger:   logger,
		bank:     phaselock.NewBank(cfg.Bands),
		spectrum: spectrum.New(cfg.Spectrum),
		channels: channels,
		chunk:    make([]float32, cfg.ReadChunk),
		locked:   make([]bool, len(cfg.Bands)),
		subs:     make(map[string]*Subscription),
	}
	e.phaseLock.Store(cfg.PhaseLock)
	return e
}

// SetPhaseLock switches phase locking for subsequent ticks.
func (e *Engine) SetPhaseLock(enabled bool) {
	if e.phaseLock.Swap(enabled) != enabled {
		e.logger.Info("phase lock toggled", zap.Bool("enabled", enabled))
	}
}

// PhaseLock reports whether phase locking is enabled.
func (e *Engine) PhaseLock() bool {
	return e.phaseLock.Load()
}

// Bank exposes the phase-lock bands. Only the tick goroutine may use it.
func (e *Engine) Bank() *phaselock.Bank {
	return e.bank
}

// Run ticks at the configured frame rate until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FrameRate))
	defer ticker.Stop()

	e.logger.Info("engine started",
		zap.Int("frameRate", e.cfg.FrameRate),
		zap.Int("readChunk", e.cfg.ReadChunk),
		zap.Int("channels", e.channels),
		zap.Int("bands", e.bank.Len()))

	lastLog := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", zap.Uint64("frames", e.seq))
			e.closeSubscriptions()
			return nil
		case <-ticker.C:
		}

		f := e.Tick(e.phaseLock.Load())

		if time.Since(lastLog) >= 5*time.Second {
			fields := []zap.Field{
				zap.Uint64("frames", f.Seq),
				zap.Int("buffered", f.Stats.AvailableSamples),
				zap.Float64("dominantHz", f.DominantFrequency),
			}
			for _, b := range f.Bands {
				fields = append(fields, zap.Float64(b.Name+"Correlation", b.State.BestCorrelation))
			}
			e.logger.Info("engine progress", fields...)
			lastLog = time.Now()
		}
	}
}

// Tick performs one read and analysis pass and publishes the resulting
// frame. A tick reads what is buffered, up to ReadChunk samples; only a tick
// that finds the ring empty registers an underrun. Stereo input is
// downmixed before analysis.
func (e *Engine) Tick(enabled bool) *Frame {
	start := time.Now()

	want := len(e.chunk)
	if avail := e.src.AvailableSamples(); avail > 0 && avail < want {
		want = avail
		if e.channels == 2 {
			want &^= 1
		}
	}
	n := 0
	if want > 0 {
		n = e.src.ReadSamples(e.chunk[:want])
	}
	samples := e.chunk[:n]
	if e.channels == 2 {
		e.mono = audio.DownmixInterleaved(e.mono[:0], samples)
		samples = e.mono
	}
	if len(samples) > 0 {
		e.bank.AddSamples(samples)
		e.spectrum.ProcessSamples(samples)
	}
	e.states = e.bank.Analyze(e.states[:0], enabled)

	e.seq++
	f := &Frame{
		Seq:         e.seq,
		Timestamp:   start,
		SampleRate:  e.cfg.SampleRate,
		SamplesRead: n,
		Channels:    e.channels,
		PhaseLock:   enabled,
		Stats:       e.src.Stats(),
		Bands:       make([]BandFrame, len(e.states)),
	}
	for i, st := range e.states {
		f.Bands[i] = BandFrame{
			Name:   st.Name,
			State:  st.State,
			Window: e.bank.Analyzer(i).DisplayWindow(nil),
		}
		e.trackLock(i, st)
	}

	sp := e.spectrum.State()
	half := len(sp.Magnitudes) / 2
	f.Spectrum = append([]float64(nil), sp.Magnitudes[:half]...)
	f.Peaks = append([]fft.Peak(nil), sp.Peaks...)
	f.DominantFrequency = sp.DominantFrequency
	f.TotalEnergy = sp.TotalEnergy

	e.recordMetrics(f)
	e.publish(f)

	metrics.TickDuration.Observe(float64(time.Since(start).Microseconds()))
	return f
}

func (e *Engine) trackLock(i int, st phaselock.BandState) {
	locked := 0.0
	if st.HasLock {
		locked = 1
	}
	metrics.PhaseLocked.WithLabelValues(st.Name).Set(locked)
	metrics.BestCorrelation.WithLabelValues(st.Name).Set(st.BestCorrelation)

	if st.HasLock != e.locked[i] {
		e.locked[i] = st.HasLock
		e.logger.Debug("phase lock changed",
			zap.String("band", st.Name),
			zap.Bool("locked", st.HasLock),
			zap.Float64("correlation", st.BestCorrelation))
	}
}

func (e *Engine) recordMetrics(f *Frame) {
	st := f.Stats
	if d := st.TotalSamplesCaptured - e.prev.TotalSamplesCaptured; d > 0 {
		metrics.SamplesCapturedTotal.Add(float64(d))
	}
	if d := st.Overruns - e.prev.Overruns; d > 0 {
		metrics.OverrunsTotal.Add(float64(d))
	}
	if d := st.Underruns - e.prev.Underruns; d > 0 {
		metrics.UnderrunsTotal.Add(float64(d))
	}
	e.prev = st
	metrics.RingFill.Set(float64(st.AvailableSamples))
	metrics.DominantFrequency.Set(f.DominantFrequency)
}

func (e *Engine) publish(f *Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = f
	for _, s := range e.subs {
		select {
		case s.ch <- f:
		default:
			metrics.FramesDroppedTotal.WithLabelValues("slow_subscriber").Inc()
		}
	}
}

// Latest returns the most recent frame, or nil before the first tick.
func (e *Engine) Latest() *Frame {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Subscribe registers a frame subscriber with the given channel capacity.
func (e *Engine) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Frame, buffer)
	s := &Subscription{ID: uuid.New().String(), C: ch, ch: ch}
	e.mu.Lock()
	e.subs[s.ID] = s
	e.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Idempotent.
func (e *Engine) Unsubscribe(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[s.ID]; ok {
		delete(e.subs, s.ID)
		close(s.ch)
	}
}

// Subscribers returns the number of registered subscriptions.
func (e *Engine) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Engine) closeSubscriptions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.subs {
		delete(e.subs, id)
		close(s.ch)
	}
}
