// Package fft provides an in-place radix-2 Cooley-Tukey transform and the
// spectrum helpers the analyzers build on.
package fft

import (
	"errors"
	"math"
	"math/cmplx"
	"sort"
)

// ErrNotPowerOfTwo is returned for transform lengths that are not 2^k.
var ErrNotPowerOfTwo = errors.New("fft: length is not a power of two")

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n <= 1.
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Forward computes the DFT of data in place.
func Forward(data []complex128) error {
	n := len(data)
	if n <= 1 {
		return nil
	}
	if !IsPowerOfTwo(n) {
		return ErrNotPowerOfTwo
	}
	bitReverse(data)
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := -2 * math.Pi / float64(size)
		for j := 0; j < half; j++ {
			sin, cos := math.Sincos(step * float64(j))
			w := complex(cos, sin)
			for i := j; i < n; i += size {
				u := data[i]
				v := data[i+half] * w
				data[i] = u + v
				data[i+half] = u - v
			}
		}
	}
	return nil
}

// Inverse computes the inverse DFT of data in place, including the 1/n
// scaling.
func Inverse(data []complex128) error {
	n := len(data)
	if n <= 1 {
		return nil
	}
	if !IsPowerOfTwo(n) {
		return ErrNotPowerOfTwo
	}
	for i, v := range data {
		data[i] = cmplx.Conj(v)
	}
	if err := Forward(data); err != nil {
		return err
	}
	scale := 1 / float64(n)
	for i, v := range data {
		c := cmplx.Conj(v)
		data[i] = complex(real(c)*scale, imag(c)*scale)
	}
	return nil
}

func bitReverse(data []complex128) {
	n := len(data)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			data[i], data[j] = data[j], data[i]
		}
	}
}

// Magnitudes writes |x| of every bin into dst, growing it as needed.
func Magnitudes(dst []float64, data []complex128) []float64 {
	dst = resize(dst, len(data))
	for i, v := range data {
		dst[i] = cmplx.Abs(v)
	}
	return dst
}

// Power writes |x|^2 of every bin into dst.
func Power(dst []float64, data []complex128) []float64 {
	dst = resize(dst, len(data))
	for i, v := range data {
		re, im := real(v), imag(v)
		dst[i] = re*re + im*im
	}
	return dst
}

func resize(dst []float64, n int) []float64 {
	if cap(dst) < n {
		return make([]float64, n)
	}
	return dst[:n]
}

// Peak is a local maximum of a magnitude spectrum.
type Peak struct {
	Frequency float64 `json:"frequency" msgpack:"frequency"`
	Magnitude float64 `json:"magnitude" msgpack:"magnitude"`
	Bin       int     `json:"bin" msgpack:"bin"`
}

// FindPeaks returns the strictly local maxima above threshold in the lower
// half of a full-length magnitude spectrum, strongest first, at most
// maxPeaks of them.
func FindPeaks(mag []float64, sampleRate, threshold float64, maxPeaks int) []Peak {
	n := len(mag)
	half := n / 2
	var peaks []Peak
	for i := 1; i < half-1; i++ {
		m := mag[i]
		if m > threshold && m > mag[i-1] && m > mag[i+1] {
			peaks = append(peaks, Peak{
				Frequency: float64(i) * sampleRate / float64(n),
				Magnitude: m,
				Bin:       i,
			})
		}
	}
	sort.SliceStable(peaks, func(a, b int) bool {
		return peaks[a].Magnitude > peaks[b].Magnitude
	})
	if maxPeaks >= 0 && len(peaks) > maxPeaks {
		peaks = peaks[:maxPeaks]
	}
	return peaks
}
