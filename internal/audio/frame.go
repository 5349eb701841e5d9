// Package audio holds the sample and packet types shared by capture
// backends and the analysis pipeline, plus format conversions.
package audio

import (
	"encoding/binary"
	"math"
)

// StereoFrame is one interleaved left/right sample pair in [-1, 1].
type StereoFrame struct {
	Left  float32
	Right float32
}

// Packet is a run of stereo frames as delivered by a capture backend.
type Packet []StereoFrame

// BytesPerFrameF32 is the size of one f32le stereo frame.
const BytesPerFrameF32 = 8

// BytesPerFrameS16 is the size of one s16le stereo frame.
const BytesPerFrameS16 = 4

// Mono averages the two channels.
func (f StereoFrame) Mono() float32 {
	return 0.5 * (f.Left + f.Right)
}

// Downmix appends 0.5*(left+right) for every frame of p to dst and returns
// the extended slice.
func Downmix(dst []float32, p Packet) []float32 {
	for _, f := range p {
		dst = append(dst, f.Mono())
	}
	return dst
}

// DownmixInterleaved appends the mono average of each L,R pair in samples
// to dst. A trailing odd sample is dropped.
func DownmixInterleaved(dst, samples []float32) []float32 {
	for i := 0; i+1 < len(samples); i += 2 {
		dst = append(dst, 0.5*(samples[i]+samples[i+1]))
	}
	return dst
}

// Interleave appends L,R,L,R... for every frame of p to dst.
func Interleave(dst []float32, p Packet) []float32 {
	for _, f := range p {
		dst = append(dst, f.Left, f.Right)
	}
	return dst
}

// FramesFromInterleaved converts an interleaved float32 slice into frames,
// reusing dst's backing array. A trailing odd sample is dropped.
func FramesFromInterleaved(dst Packet, samples []float32) Packet {
	dst = dst[:0]
	for i := 0; i+1 < len(samples); i += 2 {
		dst = append(dst, StereoFrame{Left: samples[i], Right: samples[i+1]})
	}
	return dst
}

// FramesFromMono duplicates each mono sample onto both channels.
func FramesFromMono(dst Packet, samples []float32) Packet {
	dst = dst[:0]
	for _, s := range samples {
		dst = append(dst, StereoFrame{Left: s, Right: s})
	}
	return dst
}

// Int16ToFloat32 scales a signed 16-bit sample into [-1, 1).
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 32768
}

// Float32ToInt16 converts a float sample to s16, clamping out-of-range input.
func Float32ToInt16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// FramesFromF32LE decodes little-endian interleaved float32 stereo into
// dst. Any trailing partial frame in data is ignored.
func FramesFromF32LE(dst Packet, data []byte) Packet {
	dst = dst[:0]
	for i := 0; i+BytesPerFrameF32 <= len(data); i += BytesPerFrameF32 {
		l := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
		r := math.Float32frombits(binary.LittleEndian.Uint32(data[i+4:]))
		dst = append(dst, StereoFrame{Left: l, Right: r})
	}
	return dst
}

// FramesFromS16LE decodes little-endian interleaved s16 stereo into dst.
func FramesFromS16LE(dst Packet, data []byte) Packet {
	dst = dst[:0]
	for i := 0; i+BytesPerFrameS16 <= len(data); i += BytesPerFrameS16 {
		l := int16(binary.LittleEndian.Uint16(data[i:]))
		r := int16(binary.LittleEndian.Uint16(data[i+2:]))
		dst = append(dst, StereoFrame{Left: Int16ToFloat32(l), Right: Int16ToFloat32(r)})
	}
	return dst
}

// AppendF32LE encodes frames as little-endian interleaved float32.
func AppendF32LE(dst []byte, p Packet) []byte {
	for _, f := range p {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.Left))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.Right))
	}
	return dst
}
