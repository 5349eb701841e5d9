package capture

import (
	"context"

	"github.com/jotoft/loopback-visualizer/internal/audio"
)

// Backend is a platform audio source. A Session owns the goroutine that
// drives it; backends never start their own producer goroutines.
//
// Read blocks for at most one packet and must return promptly once ctx is
// cancelled. The returned packet is only valid until the next call to Read.
// Returning io.EOF ends the capture cleanly.
type Backend interface {
	Name() string
	Open(ctx context.Context) error
	Read(ctx context.Context) (audio.Packet, error)
	Close() error
}

// FuncBackend adapts a read function into a Backend.
type FuncBackend struct {
	BackendName string
	ReadFunc    func(ctx context.Context) (audio.Packet, error)
	OpenFunc    func(ctx context.Context) error
	CloseFunc   func() error
}

func (f *FuncBackend) Name() string {
	if f.BackendName == "" {
		return "func"
	}
	return f.BackendName
}

func (f *FuncBackend) Open(ctx context.Context) error {
	if f.OpenFunc == nil {
		return nil
	}
	return f.OpenFunc(ctx)
}

func (f *FuncBackend) Read(ctx context.Context) (audio.Packet, error) {
	return f.ReadFunc(ctx)
}

func (f *FuncBackend) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}
