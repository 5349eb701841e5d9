package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.ListenAddr)
	}
	if cfg.SampleRate != 44100 || cfg.RingBufferSize != 1<<20 || !cfg.ConvertToMono {
		t.Errorf("unexpected capture defaults: %+v", cfg)
	}
	if cfg.FrameRate != 240 || cfg.ReadChunk != 512 || cfg.DisplaySamples != 2400 || cfg.StreamMaxFPS != 60 {
		t.Errorf("unexpected engine defaults: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SAMPLE_RATE", "48000")
	t.Setenv("CONVERT_TO_MONO", "false")
	t.Setenv("SYNTH_FREQUENCY", "220.5")
	t.Setenv("STUN_SERVERS", "stun:a:3478, ,stun:b:3478")
	t.Setenv("FRAME_RATE", "not-a-number")

	cfg := Load()
	if cfg.SampleRate != 48000 {
		t.Errorf("expected 48000, got %d", cfg.SampleRate)
	}
	if cfg.ConvertToMono {
		t.Error("expected stereo")
	}
	if cfg.SynthFrequency != 220.5 {
		t.Errorf("expected 220.5, got %f", cfg.SynthFrequency)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[1] != "stun:b:3478" {
		t.Errorf("unexpected STUN servers: %v", cfg.STUNServers)
	}
	if cfg.FrameRate != 240 {
		t.Errorf("expected fallback for invalid int, got %d", cfg.FrameRate)
	}
}
