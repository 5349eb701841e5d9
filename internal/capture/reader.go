package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jotoft/loopback-visualizer/internal/audio"
)

var errInvalidToneParams = errors.New("frequency and sample rate must be positive")

// SampleFormat is the wire encoding of interleaved stereo PCM.
type SampleFormat string

const (
	FormatF32LE SampleFormat = "f32le"
	FormatS16LE SampleFormat = "s16le"
)

// ParseSampleFormat accepts the ffmpeg names of the supported encodings.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch SampleFormat(strings.ToLower(s)) {
	case FormatF32LE:
		return FormatF32LE, nil
	case FormatS16LE:
		return FormatS16LE, nil
	}
	return "", newError(UnsupportedFormat, "parse format", fmt.Errorf("%q", s))
}

func (f SampleFormat) bytesPerFrame() int {
	if f == FormatS16LE {
		return audio.BytesPerFrameS16
	}
	return audio.BytesPerFrameF32
}

// ReaderBackend decodes interleaved stereo PCM from an io.Reader, such as a
// pipe from an external capture process.
type ReaderBackend struct {
	BackendName string
	Format      SampleFormat
	// ChunkFrames is the number of frames requested per Read.
	ChunkFrames int

	r       io.Reader
	buf     []byte
	pending int
	pkt     *audio.Packet
	stop    func() bool
}

// NewReaderBackend wraps r. If r is also an io.Closer it is closed when the
// capture context is cancelled, which unblocks a pending read.
func NewReaderBackend(r io.Reader, format SampleFormat) *ReaderBackend {
	return &ReaderBackend{
		BackendName: "reader",
		Format:      format,
		ChunkFrames: 512,
		r:           r,
	}
}

func (b *ReaderBackend) Name() string { return b.BackendName }

func (b *ReaderBackend) Open(ctx context.Context) error {
	if b.Format != FormatF32LE && b.Format != FormatS16LE {
		return newError(UnsupportedFormat, "open reader", fmt.Errorf("%q", b.Format))
	}
	if b.r == nil {
		return newError(DeviceNotFound, "open reader", errors.New("nil reader"))
	}
	if b.ChunkFrames <= 0 || b.ChunkFrames > audio.MaxPacketFrames {
		b.ChunkFrames = 512
	}
	b.buf = make([]byte, b.ChunkFrames*b.Format.bytesPerFrame())
	b.pending = 0
	b.pkt = audio.AcquirePacket()
	if c, ok := b.r.(io.Closer); ok {
		b.stop = context.AfterFunc(ctx, func() { _ = c.Close() })
	}
	return nil
}

// Read returns the whole frames decoded from one underlying read. Bytes of
// a trailing partial frame are held until the next call.
func (b *ReaderBackend) Read(ctx context.Context) (audio.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := b.r.Read(b.buf[b.pending:])
	n += b.pending
	bpf := b.Format.bytesPerFrame()
	whole := n - n%bpf

	var p audio.Packet
	if whole > 0 {
		if b.Format == FormatS16LE {
			p = audio.FramesFromS16LE(*b.pkt, b.buf[:whole])
		} else {
			p = audio.FramesFromF32LE(*b.pkt, b.buf[:whole])
		}
		*b.pkt = p
	}
	b.pending = copy(b.buf, b.buf[whole:n])

	if err != nil {
		if errors.Is(err, io.EOF) {
			return p, io.EOF
		}
		if ctx.Err() != nil {
			return p, ctx.Err()
		}
		return p, newError(ReadError, "read "+b.BackendName, err)
	}
	return p, nil
}

func (b *ReaderBackend) Close() error {
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	if b.pkt != nil {
		audio.ReleasePacket(b.pkt)
		b.pkt = nil
	}
	return nil
}
