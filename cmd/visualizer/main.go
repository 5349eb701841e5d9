package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jotoft/loopback-visualizer/internal/api"
	"github.com/jotoft/loopback-visualizer/internal/capture"
	"github.com/jotoft/loopback-visualizer/internal/config"
	"github.com/jotoft/loopback-visualizer/internal/engine"
	"github.com/jotoft/loopback-visualizer/internal/logging"
	"github.com/jotoft/loopback-visualizer/internal/phaselock"
	"github.com/jotoft/loopback-visualizer/internal/stream"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.LogDev,
		File:        cfg.LogFile,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		MaxBackups:  cfg.LogMaxBackups,
		MaxAgeDays:  cfg.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("loopback-visualizer starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("backend", cfg.CaptureBackend),
		zap.Int("sampleRate", cfg.SampleRate),
		zap.Int("frameRate", cfg.FrameRate),
		zap.Int("phaseBanks", cfg.PhaseBanks),
	)

	backend, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatal("invalid capture backend", zap.Error(err))
	}

	captureErr := make(chan error, 1)
	sessCfg := capture.DefaultConfig()
	sessCfg.BufferSize = cfg.RingBufferSize
	sessCfg.ConvertToMono = cfg.ConvertToMono
	sessCfg.ErrorHandler = func(err error) {
		select {
		case captureErr <- err:
		default:
		}
	}
	sess := capture.NewSession(backend, sessCfg, logger)

	eng := engine.New(sess, engineConfig(cfg), logger.With(zap.String("component", "engine")))

	streams, err := stream.New(stream.Options{
		STUNServers: cfg.STUNServers,
		MaxStreams:  cfg.MaxStreams,
		MaxFPS:      cfg.StreamMaxFPS,
	}, eng, logger.With(zap.String("component", "stream")))
	if err != nil {
		logger.Fatal("failed to create stream manager", zap.Error(err))
	}

	h := api.NewHandlers(eng, sess, streams, logger.With(zap.String("component", "http")))
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	if err := sess.Start(); err != nil {
		logger.Fatal("failed to start capture", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("HTTP API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-captureErr:
			return fmt.Errorf("capture: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		streams.Shutdown()
		sess.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("visualizer exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newBackend(cfg *config.Config, logger *zap.Logger) (capture.Backend, error) {
	switch cfg.CaptureBackend {
	case "synthetic":
		return capture.NewSyntheticBackend(cfg.SynthFrequency, float64(cfg.SampleRate)), nil
	case "ffmpeg":
		return capture.NewFFmpegBackend(cfg.CaptureInput, cfg.CaptureFormat, cfg.SampleRate, logger), nil
	case "portaudio":
		if !capture.PortAudioAvailable {
			logger.Warn("portaudio backend selected but binary built without the portaudio tag")
		}
		return capture.NewPortAudioBackend(cfg.CaptureInput, float64(cfg.SampleRate), logger), nil
	case "stdin":
		format, err := capture.ParseSampleFormat(cfg.SampleFormat)
		if err != nil {
			return nil, err
		}
		b := capture.NewReaderBackend(os.Stdin, format)
		b.BackendName = "stdin"
		return b, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.CaptureBackend)
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	sr := float64(cfg.SampleRate)
	ec := engine.DefaultConfig(sr, cfg.DisplaySamples)
	ec.FrameRate = cfg.FrameRate
	ec.ReadChunk = cfg.ReadChunk
	ec.PhaseLock = cfg.PhaseLock
	ec.Spectrum.FFTSize = cfg.FFTSize
	if cfg.PhaseBanks > 1 {
		ec.Bands = phaselock.DefaultBands(sr, cfg.DisplaySamples)
	}
	return ec
}
