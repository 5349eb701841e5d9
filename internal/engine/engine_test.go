package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/audio"
	"github.com/jotoft/loopback-visualizer/internal/capture"
	"github.com/jotoft/loopback-visualizer/internal/testutil"
)

// sliceSource serves a buffer in order, like a ring that only refills
// through push.
type sliceSource struct {
	mu        sync.Mutex
	data      []float32
	pos       int
	channels  int
	underruns uint64
}

func (s *sliceSource) push(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, samples...)
}

func (s *sliceSource) AvailableSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) - s.pos
}

func (s *sliceSource) Channels() int {
	if s.channels == 0 {
		return 1
	}
	return s.channels
}

func (s *sliceSource) ReadSamples(dst []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(dst, s.data[s.pos:])
	s.pos += n
	if n < len(dst) {
		s.underruns++
	}
	return n
}

func (s *sliceSource) Stats() capture.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return capture.Stats{
		BufferCapacity:       len(s.data),
		AvailableSamples:     len(s.data) - s.pos,
		TotalSamplesCaptured: uint64(len(s.data)),
		Underruns:            s.underruns,
	}
}

func testConfig() Config {
	return DefaultConfig(44100, 2400)
}

func TestTickLocksOnSine(t *testing.T) {
	src := &sliceSource{data: audio.GenerateSineWave(512*80, 441, 44100, 0.8)}
	e := New(src, testConfig(), zap.NewNop())

	var f *Frame
	for i := 0; i < 80; i++ {
		f = e.Tick(true)
	}

	if f.Seq != 80 {
		t.Errorf("expected seq 80, got %d", f.Seq)
	}
	if len(f.Bands) != 1 {
		t.Fatalf("expected 1 band, got %d", len(f.Bands))
	}
	b := f.Bands[0]
	if !b.State.HasLock {
		t.Errorf("expected lock, got %+v", b.State)
	}
	if len(b.Window) != 2400 {
		t.Errorf("expected 2400-sample window, got %d", len(b.Window))
	}
	if math.Abs(f.DominantFrequency-441) > 44100.0/2048 {
		t.Errorf("expected dominant near 441 Hz, got %f", f.DominantFrequency)
	}
	if len(f.Spectrum) != 1024 {
		t.Errorf("expected half spectrum of 1024 bins, got %d", len(f.Spectrum))
	}
	if e.Latest() != f {
		t.Error("Latest should return the last published frame")
	}
}

func TestTickWithoutSamples(t *testing.T) {
	src := &sliceSource{}
	e := New(src, testConfig(), zap.NewNop())

	f := e.Tick(true)
	if f.SamplesRead != 0 {
		t.Errorf("expected no samples, got %d", f.SamplesRead)
	}
	if f.Bands[0].State.HasLock {
		t.Error("silence must not lock")
	}
	if f.Stats.Underruns != 1 {
		t.Errorf("expected 1 underrun, got %d", f.Stats.Underruns)
	}
}

func TestTickReadsOnlyBufferedSamples(t *testing.T) {
	src := &sliceSource{}
	e := New(src, testConfig(), zap.NewNop())

	// 44.1 kHz at 240 fps delivers about 184 samples per tick
	tone := audio.GenerateSineWave(184*240, 441, 44100, 0.8)
	for i := 0; i < 240; i++ {
		src.push(tone[i*184 : (i+1)*184])
		f := e.Tick(true)
		if f.SamplesRead != 184 {
			t.Fatalf("tick %d: expected 184 samples, got %d", i, f.SamplesRead)
		}
	}
	if st := src.Stats(); st.Underruns != 0 {
		t.Errorf("expected no underruns while audio keeps up, got %d", st.Underruns)
	}

	f := e.Tick(true)
	if f.SamplesRead != 0 || f.Stats.Underruns != 1 {
		t.Errorf("expected one underrun on an empty ring, got read=%d underruns=%d", f.SamplesRead, f.Stats.Underruns)
	}
}

func TestTickCapsReadAtChunk(t *testing.T) {
	src := &sliceSource{data: make([]float32, 2000)}
	e := New(src, testConfig(), zap.NewNop())
	if f := e.Tick(true); f.SamplesRead != 512 {
		t.Errorf("expected a 512-sample read, got %d", f.SamplesRead)
	}
	if got := src.AvailableSamples(); got != 2000-512 {
		t.Errorf("expected %d samples left, got %d", 2000-512, got)
	}
}

func TestStereoTickReadsWholeFrames(t *testing.T) {
	src := &sliceSource{channels: 2, data: make([]float32, 301)}
	cfg := testConfig()
	cfg.ReadChunk = 511
	e := New(src, cfg, zap.NewNop())

	f := e.Tick(true)
	if f.SamplesRead != 300 {
		t.Errorf("expected 300 samples read, got %d", f.SamplesRead)
	}
	if f.Channels != 2 {
		t.Errorf("expected 2 channels, got %d", f.Channels)
	}
	if len(e.chunk)%2 != 0 {
		t.Errorf("expected an even read chunk, got %d", len(e.chunk))
	}
}

func TestPhaseLockToggle(t *testing.T) {
	e := New(&sliceSource{}, testConfig(), zap.NewNop())
	if !e.PhaseLock() {
		t.Fatal("expected phase lock on by default")
	}
	e.SetPhaseLock(false)
	if e.PhaseLock() {
		t.Error("expected phase lock off")
	}
}

func TestDisabledFrameHasNoLock(t *testing.T) {
	src := &sliceSource{data: audio.GenerateSineWave(512*60, 441, 44100, 0.8)}
	e := New(src, testConfig(), zap.NewNop())
	for i := 0; i < 59; i++ {
		e.Tick(true)
	}
	f := e.Tick(false)
	if f.PhaseLock || f.Bands[0].State.HasLock {
		t.Errorf("expected unlocked frame, got %+v", f.Bands[0].State)
	}
}

func TestSubscribersReceiveFrames(t *testing.T) {
	e := New(&sliceSource{}, testConfig(), zap.NewNop())
	sub := e.Subscribe(4)
	if e.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", e.Subscribers())
	}

	e.Tick(true)
	select {
	case f := <-sub.C:
		if f.Seq != 1 {
			t.Errorf("expected seq 1, got %d", f.Seq)
		}
	default:
		t.Fatal("expected a frame")
	}

	e.Unsubscribe(sub)
	e.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	e := New(&sliceSource{}, testConfig(), zap.NewNop())
	sub := e.Subscribe(1)
	for i := 0; i < 10; i++ {
		e.Tick(true)
	}
	f := <-sub.C
	if f.Seq != 1 {
		t.Errorf("expected the first frame to be buffered, got seq %d", f.Seq)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	baseline := testutil.GoroutineBaseline()

	cfg := testConfig()
	cfg.FrameRate = 1000
	src := &sliceSource{data: audio.GenerateSineWave(44100, 441, 44100, 0.8)}
	e := New(src, cfg, zap.NewNop())
	sub := e.Subscribe(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame published")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	for range sub.C {
	}
	if e.Subscribers() != 0 {
		t.Errorf("expected subscriptions closed, got %d", e.Subscribers())
	}
	testutil.AssertNoGoroutineLeaks(t, baseline, 2)
}

func TestStereoSessionKeepsFrequency(t *testing.T) {
	for _, mono := range []bool{true, false} {
		backend := capture.NewSyntheticBackend(1000, 44100)
		backend.Paced = false
		backend.MaxPackets = 100
		cfg := capture.DefaultConfig()
		cfg.ConvertToMono = mono
		sess := capture.NewSession(backend, cfg, zap.NewNop())
		if err := sess.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for sess.IsCapturing() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		e := New(sess, testConfig(), zap.NewNop())
		var f *Frame
		for i := 0; i < 40; i++ {
			f = e.Tick(true)
		}
		sess.Stop()

		if f.Channels != sess.Channels() {
			t.Errorf("mono=%v: frame reports %d channels, session %d", mono, f.Channels, sess.Channels())
		}
		if math.Abs(f.DominantFrequency-1000) > 44100.0/2048 {
			t.Errorf("mono=%v: expected dominant near 1000 Hz, got %f", mono, f.DominantFrequency)
		}
		if !f.Bands[0].State.HasLock {
			t.Errorf("mono=%v: expected lock, got %+v", mono, f.Bands[0].State)
		}
	}
}

func TestWithCaptureSession(t *testing.T) {
	backend := capture.NewSyntheticBackend(441, 44100)
	backend.Paced = false
	backend.MaxPackets = 100
	sess := capture.NewSession(backend, capture.DefaultConfig(), zap.NewNop())
	if err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sess.IsCapturing() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	e := New(sess, testConfig(), zap.NewNop())
	var f *Frame
	for i := 0; i < 90; i++ {
		f = e.Tick(true)
	}
	if f.Stats.TotalSamplesCaptured == 0 {
		t.Fatal("expected captured samples in stats")
	}
	if !f.Bands[0].State.HasLock {
		t.Errorf("expected lock on synthetic tone, got %+v", f.Bands[0].State)
	}
}
