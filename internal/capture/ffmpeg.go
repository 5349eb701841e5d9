package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/audio"
)

// FFmpegBackend captures through an ffmpeg subprocess, normalizing any
// input ffmpeg understands to interleaved stereo f32le at the session rate.
//
// Typical loopback inputs are "-f pulse -i default.monitor" on Linux,
// "-f avfoundation -i :BlackHole" on macOS and "-f dshow" on Windows. Plain
// http(s) inputs are validated against private address ranges.
type FFmpegBackend struct {
	Input       string
	InputFormat string
	SampleRate  int
	Binary      string

	logger *zap.Logger
	cmd    *exec.Cmd
	reader *ReaderBackend
}

// NewFFmpegBackend creates a backend for the given ffmpeg input.
func NewFFmpegBackend(input, inputFormat string, sampleRate int, logger *zap.Logger) *FFmpegBackend {
	return &FFmpegBackend{
		Input:       input,
		InputFormat: inputFormat,
		SampleRate:  sampleRate,
		Binary:      "ffmpeg",
		logger:      logger.With(zap.String("ffmpegInput", input)),
	}
}

func (f *FFmpegBackend) Name() string { return "ffmpeg" }

func (f *FFmpegBackend) args() []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error"}
	if f.InputFormat != "" {
		args = append(args, "-f", f.InputFormat)
	}
	if isNetworkInput(f.Input) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	return append(args,
		"-i", f.Input,
		"-vn",
		"-ac", "2",
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", string(FormatF32LE),
		"pipe:1",
	)
}

func (f *FFmpegBackend) Open(ctx context.Context) error {
	if f.Input == "" {
		return newError(DeviceNotFound, "ffmpeg", errors.New("no input configured"))
	}
	if f.SampleRate <= 0 {
		return newError(UnsupportedFormat, "ffmpeg", fmt.Errorf("sample rate %d", f.SampleRate))
	}
	if isNetworkInput(f.Input) {
		if err := ValidateURL(f.Input); err != nil {
			return newError(DeviceNotFound, "ffmpeg", err)
		}
	}

	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return newError(InitializationFailed, "ffmpeg", err)
	}

	cmd := exec.CommandContext(ctx, bin, f.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newError(SystemError, "ffmpeg stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return newError(InitializationFailed, "ffmpeg start", err)
	}

	f.cmd = cmd
	f.reader = NewReaderBackend(stdout, FormatF32LE)
	f.reader.BackendName = "ffmpeg"
	if err := f.reader.Open(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}

	f.logger.Info("ffmpeg capture started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (f *FFmpegBackend) Read(ctx context.Context) (audio.Packet, error) {
	return f.reader.Read(ctx)
}

// Close kills ffmpeg if it is still running and reaps it.
func (f *FFmpegBackend) Close() error {
	if f.cmd == nil {
		return nil
	}
	_ = f.reader.Close()
	if f.cmd.ProcessState == nil {
		_ = f.cmd.Process.Kill()
	}
	err := f.cmd.Wait()
	f.cmd = nil
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed by us or by context cancellation.
		return nil
	}
	return err
}

func isNetworkInput(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}
