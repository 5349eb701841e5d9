package fft

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"
)

func TestPowerOfTwoHelpers(t *testing.T) {
	tests := []struct {
		n    int
		pow  bool
		next int
	}{
		{0, false, 1},
		{1, true, 1},
		{2, true, 2},
		{3, false, 4},
		{1000, false, 1024},
		{2048, true, 2048},
		{2049, false, 4096},
	}
	for _, tt := range tests {
		if got := IsPowerOfTwo(tt.n); got != tt.pow {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", tt.n, got, tt.pow)
		}
		if got := NextPowerOfTwo(tt.n); got != tt.next {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.next)
		}
	}
}

func TestForwardRejectsOddLength(t *testing.T) {
	if err := Forward(make([]complex128, 12)); err != ErrNotPowerOfTwo {
		t.Fatalf("expected ErrNotPowerOfTwo, got %v", err)
	}
	if err := Inverse(make([]complex128, 6)); err != ErrNotPowerOfTwo {
		t.Fatalf("expected ErrNotPowerOfTwo, got %v", err)
	}
}

func TestDCConcentratesInBinZero(t *testing.T) {
	const n = 64
	const c = 0.75
	data := make([]complex128, n)
	for i := range data {
		data[i] = c
	}
	if err := Forward(data); err != nil {
		t.Fatal(err)
	}
	if got := cmplx.Abs(data[0]); math.Abs(got-n*c) > 1e-9 {
		t.Errorf("bin 0: got %f, want %f", got, n*c)
	}
	for k := 1; k < n; k++ {
		if m := cmplx.Abs(data[k]); m > 1e-9 {
			t.Errorf("bin %d: expected ~0, got %g", k, m)
		}
	}
}

func TestSinusoidHitsMirroredBins(t *testing.T) {
	const n = 256
	const k = 10
	data := make([]complex128, n)
	for i := range data {
		data[i] = complex(math.Sin(2*math.Pi*k*float64(i)/n), 0)
	}
	if err := Forward(data); err != nil {
		t.Fatal(err)
	}
	for b := 0; b < n; b++ {
		m := cmplx.Abs(data[b])
		if b == k || b == n-k {
			if math.Abs(m-n/2) > 1e-6 {
				t.Errorf("bin %d: got %f, want %f", b, m, float64(n/2))
			}
		} else if m > 1e-6 {
			t.Errorf("bin %d: expected ~0, got %g", b, m)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{1, 2, 8, 512, 4096} {
		orig := make([]complex128, n)
		for i := range orig {
			orig[i] = complex(rng.Float64()*2-1, rng.Float64()*2-1)
		}
		data := append([]complex128(nil), orig...)
		if err := Forward(data); err != nil {
			t.Fatal(err)
		}
		if err := Inverse(data); err != nil {
			t.Fatal(err)
		}
		for i := range orig {
			if cmplx.Abs(data[i]-orig[i]) > 1e-5 {
				t.Fatalf("n=%d index %d: got %v, want %v", n, i, data[i], orig[i])
			}
		}
	}
}

func TestMatchesGonum(t *testing.T) {
	const n = 1024
	rng := rand.New(rand.NewSource(3))
	in := make([]complex128, n)
	for i := range in {
		in[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}

	want := fourier.NewCmplxFFT(n).Coefficients(nil, in)
	got := append([]complex128(nil), in...)
	if err := Forward(got); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if cmplx.Abs(got[i]-want[i]) > 1e-8 {
			t.Fatalf("bin %d: got %v, gonum %v", i, got[i], want[i])
		}
	}
}

func TestPowerIsSquaredMagnitude(t *testing.T) {
	data := []complex128{3 + 4i, -1, 2i}
	mag := Magnitudes(nil, data)
	pow := Power(nil, data)
	for i := range data {
		if math.Abs(mag[i]*mag[i]-pow[i]) > 1e-12 {
			t.Errorf("bin %d: mag^2 %f, power %f", i, mag[i]*mag[i], pow[i])
		}
	}
	if mag[0] != 5 {
		t.Errorf("expected |3+4i| = 5, got %f", mag[0])
	}
}

func TestFindPeaks(t *testing.T) {
	// 16 bins, only the first 8 are searched
	mag := []float64{9, 0.2, 0.5, 0.1, 0.9, 0.3, 0.05, 0.8, 5, 0, 0, 0, 0, 0, 0, 0}
	peaks := FindPeaks(mag, 1600, 0.1, 5)

	if len(peaks) != 2 {
		t.Fatalf("expected 2 peaks, got %d: %+v", len(peaks), peaks)
	}
	if peaks[0].Bin != 4 || peaks[0].Frequency != 400 {
		t.Errorf("expected strongest peak at bin 4 / 400 Hz, got %+v", peaks[0])
	}
	if peaks[1].Bin != 2 {
		t.Errorf("expected second peak at bin 2, got %+v", peaks[1])
	}

	if got := FindPeaks(mag, 1600, 0.1, 1); len(got) != 1 || got[0].Bin != 4 {
		t.Errorf("expected truncation to the top peak, got %+v", got)
	}
	if got := FindPeaks(mag, 1600, 1.0, 5); len(got) != 0 {
		t.Errorf("expected no peaks above 1.0, got %+v", got)
	}
	if got := FindPeaks(nil, 1600, 0, 5); len(got) != 0 {
		t.Errorf("expected no peaks for empty spectrum, got %+v", got)
	}
}
