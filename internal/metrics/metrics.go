package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	RingFill = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visualizer_ring_fill_samples",
		Help: "Samples waiting in the capture ring buffer",
	})
	Capturing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visualizer_capturing",
		Help: "1 while the capture producer is running",
	})
	PhaseLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "visualizer_phase_locked",
		Help: "1 while a phase-lock band holds lock",
	}, []string{"band"})
	BestCorrelation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "visualizer_best_correlation",
		Help: "Best normalized cross-correlation of the last frame",
	}, []string{"band"})
	DominantFrequency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visualizer_dominant_frequency_hz",
		Help: "Frequency of the strongest spectral peak",
	})
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visualizer_active_streams",
		Help: "Number of connected WebRTC frame streams",
	})
)

// Counters
var (
	SamplesCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visualizer_samples_captured_total",
		Help: "Samples written into the capture ring buffer",
	})
	OverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visualizer_overruns_total",
		Help: "Samples dropped because the ring buffer was full",
	})
	UnderrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visualizer_underruns_total",
		Help: "Reads that returned fewer samples than requested",
	})
	CaptureErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visualizer_capture_errors_total",
		Help: "Capture failures by kind",
	}, []string{"kind"})
	StreamsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visualizer_streams_created_total",
		Help: "Total frame streams created",
	})
	StreamsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visualizer_streams_rejected_total",
		Help: "Streams rejected due to capacity limit",
	})
	FramesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visualizer_frames_sent_total",
		Help: "Analysis frames sent over data channels",
	})
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visualizer_frames_dropped_total",
		Help: "Analysis frames not delivered by reason",
	}, []string{"reason"})
)

// Histograms
var (
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visualizer_tick_duration_us",
		Help:    "Analysis tick duration in microseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
	})
)
