package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string

	CaptureBackend string
	CaptureInput   string
	CaptureFormat  string
	// SampleFormat is the raw PCM layout read by the stdin backend.
	SampleFormat   string
	SynthFrequency float64
	SampleRate     int
	RingBufferSize int
	ConvertToMono  bool

	FrameRate      int
	ReadChunk      int
	DisplaySamples int
	FFTSize        int
	PhaseBanks     int
	PhaseLock      bool

	STUNServers  []string
	MaxStreams   int
	StreamMaxFPS int

	LogLevel      string
	LogFile       string
	LogDev        bool
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

func Load() *Config {
	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":9090"),

		CaptureBackend: getEnv("CAPTURE_BACKEND", "synthetic"),
		CaptureInput:   getEnv("CAPTURE_INPUT", "default.monitor"),
		CaptureFormat:  getEnv("CAPTURE_FORMAT", "pulse"),
		SampleFormat:   getEnv("SAMPLE_FORMAT", "f32le"),
		SynthFrequency: getEnvFloat("SYNTH_FREQUENCY", 440),
		SampleRate:     getEnvInt("SAMPLE_RATE", 44100),
		RingBufferSize: getEnvInt("RING_BUFFER_SIZE", 1<<20),
		ConvertToMono:  getEnvBool("CONVERT_TO_MONO", true),

		FrameRate:      getEnvInt("FRAME_RATE", 240),
		ReadChunk:      getEnvInt("READ_CHUNK", 512),
		DisplaySamples: getEnvInt("DISPLAY_SAMPLES", 2400),
		FFTSize:        getEnvInt("FFT_SIZE", 2048),
		PhaseBanks:     getEnvInt("PHASE_BANKS", 1),
		PhaseLock:      getEnvBool("PHASE_LOCK", true),

		STUNServers:  getEnvList("STUN_SERVERS", "stun:stun.l.google.com:19302"),
		MaxStreams:   getEnvInt("MAX_STREAMS", 8),
		StreamMaxFPS: getEnvInt("STREAM_MAX_FPS", 60),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogDev:        getEnvBool("LOG_DEV", false),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
