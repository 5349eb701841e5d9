// Package capture bridges a platform audio backend into a lock-free sample
// ring that the analysis loop drains at its own pace.
package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/audio"
	"github.com/jotoft/loopback-visualizer/internal/metrics"
	"github.com/jotoft/loopback-visualizer/internal/ringbuffer"
)

// DefaultBufferSize is the ring capacity in samples.
const DefaultBufferSize = 1 << 20

// progressInterval throttles the producer's progress log.
const progressInterval = 5 * time.Second

// State constants for the capture lifecycle.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StateError   = "error"
)

// Config controls ring sizing and channel handling.
type Config struct {
	BufferSize    int
	ConvertToMono bool
	// ErrorHandler, if set, is called from the producer goroutine when the
	// backend fails. The session is no longer capturing by then.
	ErrorHandler func(error)
}

// DefaultConfig returns a 1M-sample mono configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    DefaultBufferSize,
		ConvertToMono: true,
	}
}

// Stats is a point-in-time view of the session counters. The counters never
// decrease for the lifetime of a session.
type Stats struct {
	BufferCapacity       int    `json:"bufferCapacity" msgpack:"bufferCapacity"`
	AvailableSamples     int    `json:"availableSamples" msgpack:"availableSamples"`
	TotalSamplesCaptured uint64 `json:"totalSamplesCaptured" msgpack:"totalSamplesCaptured"`
	Overruns             uint64 `json:"overruns" msgpack:"overruns"`
	Underruns            uint64 `json:"underruns" msgpack:"underruns"`
}

// Status describes the session lifecycle for diagnostics.
type Status struct {
	ID        string `json:"id"`
	Backend   string `json:"backend"`
	State     string `json:"state"`
	Stats     Stats  `json:"stats"`
	LastError string `json:"lastError,omitempty"`
}

// Session owns a sample ring and the producer goroutine that feeds it from
// a Backend.
//
// Exactly one goroutine may produce (the capture loop, or a caller using
// Push while the loop is not running) and exactly one may consume
// (ReadSamples, PeekSamples). Start and Stop must not race each other or
// the consumer.
type Session struct {
	ID string

	backend Backend
	cfg     Config
	logger  *zap.Logger
	ring    *ringbuffer.Ring[float32]

	capturing atomic.Bool
	total     atomic.Uint64
	overruns  atomic.Uint64
	underruns atomic.Uint64

	// scratch is touched only by the producer.
	scratch []float32

	mu      sync.Mutex
	state   string
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession creates a stopped session reading from backend.
func NewSession(backend Backend, cfg Config, logger *zap.Logger) *Session {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	id := uuid.New().String()
	return &Session{
		ID:      id,
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(zap.String("captureSession", id), zap.String("backend", backend.Name())),
		ring:    ringbuffer.New[float32](cfg.BufferSize),
		state:   StateStopped,
	}
}

// Start opens the backend and launches the producer goroutine. It fails
// with SystemError if the session is already capturing or has previously
// failed, and with InitializationFailed if the backend cannot be opened.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing.Load() || s.cancel != nil {
		return newError(SystemError, "start", errors.New("capture already running"))
	}
	if s.lastErr != nil {
		return newError(SystemError, "start", errors.New("session failed, create a new one"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.backend.Open(ctx); err != nil {
		cancel()
		ae := asAudioError(InitializationFailed, "open "+s.backend.Name(), err)
		metrics.CaptureErrorsTotal.WithLabelValues(ae.Kind.String()).Inc()
		s.state = StateError
		s.lastErr = ae
		s.logger.Warn("capture backend open failed", zap.Error(ae))
		return ae
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	s.capturing.Store(true)
	metrics.Capturing.Set(1)

	go s.captureLoop(ctx, s.done)

	s.logger.Info("capture started",
		zap.Int("bufferCapacity", s.ring.Cap()),
		zap.Bool("mono", s.cfg.ConvertToMono))
	return nil
}

// Stop cancels the producer and waits for it to exit. Once Stop returns no
// further writes to the ring happen. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.mu.Unlock()

	s.logger.Info("capture stopped", zap.Uint64("totalSamples", s.total.Load()))
}

// IsCapturing reports whether the producer goroutine is running.
func (s *Session) IsCapturing() bool {
	return s.capturing.Load()
}

// Err returns the error that ended the capture, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) captureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer metrics.Capturing.Set(0)
	defer s.capturing.Store(false)
	defer func() {
		if err := s.backend.Close(); err != nil {
			s.logger.Debug("backend close", zap.Error(err))
		}
	}()

	lastLog := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		pkt, err := s.backend.Read(ctx)
		if len(pkt) > 0 {
			s.Push(pkt)
		}

		if time.Since(lastLog) >= progressInterval {
			st := s.Stats()
			s.logger.Info("capture progress",
				zap.Uint64("totalSamples", st.TotalSamplesCaptured),
				zap.Uint64("overruns", st.Overruns),
				zap.Int("buffered", st.AvailableSamples))
			lastLog = time.Now()
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info("capture source ended")
				s.mu.Lock()
				s.state = StateStopped
				s.mu.Unlock()
				return
			}
			s.fail(asAudioError(ReadError, "read "+s.backend.Name(), err))
			return
		}
	}
}

func (s *Session) fail(err *AudioError) {
	s.mu.Lock()
	s.state = StateError
	s.lastErr = err
	s.mu.Unlock()

	s.capturing.Store(false)
	metrics.CaptureErrorsTotal.WithLabelValues(err.Kind.String()).Inc()
	s.logger.Warn("capture failed", zap.Error(err))
	if s.cfg.ErrorHandler != nil {
		s.cfg.ErrorHandler(err)
	}
}

// Push writes one backend packet into the ring. It never blocks: samples
// that do not fit are dropped and counted as overruns. In stereo mode a
// frame is written whole or not at all, and the rest of the packet is
// dropped once one frame does not fit. Producer only.
//
// It reports whether every sample of the packet was stored.
func (s *Session) Push(p audio.Packet) bool {
	if len(p) == 0 {
		return true
	}

	s.scratch = s.scratch[:0]
	var n int
	if s.cfg.ConvertToMono {
		s.scratch = audio.Downmix(s.scratch, p)
		n = s.ring.WriteBulk(s.scratch)
	} else {
		s.scratch = audio.Interleave(s.scratch, p)
		fit := s.ring.AvailableWrite() &^ 1
		if fit > len(s.scratch) {
			fit = len(s.scratch)
		}
		n = s.ring.WriteBulk(s.scratch[:fit])
	}

	s.total.Add(uint64(n))
	if dropped := len(s.scratch) - n; dropped > 0 {
		s.overruns.Add(uint64(dropped))
		return false
	}
	return true
}

// ReadSamples consumes up to len(dst) samples and returns the number read.
// A short read counts one underrun. Safe to call with nothing available.
func (s *Session) ReadSamples(dst []float32) int {
	n := s.ring.ReadBulk(dst)
	if n < len(dst) {
		s.underruns.Add(1)
	}
	return n
}

// PeekSamples copies up to len(dst) samples starting offset samples past the
// read cursor without consuming them.
func (s *Session) PeekSamples(dst []float32, offset int) int {
	return s.ring.PeekBulk(dst, offset)
}

// AvailableSamples returns the number of samples ready to read.
func (s *Session) AvailableSamples() int {
	return s.ring.AvailableRead()
}

// Channels returns 1 when the ring holds mono samples and 2 when it holds
// interleaved L,R pairs.
func (s *Session) Channels() int {
	if s.cfg.ConvertToMono {
		return 1
	}
	return 2
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	return Stats{
		BufferCapacity:       s.ring.Cap(),
		AvailableSamples:     s.ring.AvailableRead(),
		TotalSamplesCaptured: s.total.Load(),
		Overruns:             s.overruns.Load(),
		Underruns:            s.underruns.Load(),
	}
}

// Status returns lifecycle and counter information.
func (s *Session) Status() Status {
	s.mu.Lock()
	state := s.state
	lastErr := s.lastErr
	s.mu.Unlock()

	st := Status{
		ID:      s.ID,
		Backend: s.backend.Name(),
		State:   state,
		Stats:   s.Stats(),
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}
