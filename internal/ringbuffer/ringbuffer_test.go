package ringbuffer

import (
	"sync"
	"testing"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{3, 4},
		{8, 8},
		{1000, 1024},
		{1 << 20, 1 << 20},
	}
	for _, tt := range tests {
		rb := New[float32](tt.requested)
		if rb.Cap() != tt.want {
			t.Errorf("New(%d).Cap() = %d, want %d", tt.requested, rb.Cap(), tt.want)
		}
	}
}

func TestEmptyRing(t *testing.T) {
	rb := New[float32](8)
	if !rb.Empty() {
		t.Error("new ring should be empty")
	}
	if rb.Full() {
		t.Error("new ring should not be full")
	}
	if rb.AvailableRead() != 0 {
		t.Errorf("expected 0 readable, got %d", rb.AvailableRead())
	}
	if rb.AvailableWrite() != 7 {
		t.Errorf("expected 7 writable, got %d", rb.AvailableWrite())
	}
	if _, ok := rb.TryRead(); ok {
		t.Error("TryRead on empty ring should fail")
	}
	if n := rb.ReadBulk(make([]float32, 4)); n != 0 {
		t.Errorf("ReadBulk on empty ring returned %d", n)
	}
}

func TestHoldsCapacityMinusOne(t *testing.T) {
	rb := New[int](8)
	for i := 0; i < 7; i++ {
		if !rb.TryWrite(i) {
			t.Fatalf("write %d failed before ring was full", i)
		}
	}
	if !rb.Full() {
		t.Error("ring should be full after 7 writes")
	}
	if rb.TryWrite(7) {
		t.Error("8th write should fail on an 8-slot ring")
	}

	if v, ok := rb.TryRead(); !ok || v != 0 {
		t.Fatalf("TryRead = (%d, %v), want (0, true)", v, ok)
	}
	if !rb.TryWrite(7) {
		t.Error("write should succeed after one read freed a slot")
	}
}

func TestFIFOOrder(t *testing.T) {
	rb := New[int](1024)
	in := make([]int, 1000)
	for i := range in {
		in[i] = i * 3
	}
	if n := rb.WriteBulk(in); n != len(in) {
		t.Fatalf("WriteBulk wrote %d, want %d", n, len(in))
	}

	out := make([]int, len(in))
	if n := rb.ReadBulk(out); n != len(in) {
		t.Fatalf("ReadBulk read %d, want %d", n, len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("index %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestWriteBulkPartial(t *testing.T) {
	rb := New[int](8)
	n := rb.WriteBulk([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if n != 7 {
		t.Fatalf("WriteBulk into empty 8-slot ring wrote %d, want 7", n)
	}
	if rb.WriteBulk([]int{11}) != 0 {
		t.Error("WriteBulk into full ring should write nothing")
	}

	out := make([]int, 10)
	if got := rb.ReadBulk(out); got != 7 {
		t.Fatalf("ReadBulk read %d, want 7", got)
	}
	for i := 0; i < 7; i++ {
		if out[i] != i+1 {
			t.Errorf("index %d: got %d, want %d", i, out[i], i+1)
		}
	}
}

func TestWrapAroundCycles(t *testing.T) {
	rb := New[int](8)
	next := 0
	expect := 0

	// Each cycle fits, but the cursors pass the end of the backing array
	// many times over.
	for cycle := 0; cycle < 12; cycle++ {
		chunk := make([]int, 5)
		for i := range chunk {
			chunk[i] = next
			next++
		}
		if n := rb.WriteBulk(chunk); n != 5 {
			t.Fatalf("cycle %d: wrote %d, want 5", cycle, n)
		}

		out := make([]int, 5)
		if n := rb.ReadBulk(out); n != 5 {
			t.Fatalf("cycle %d: read %d, want 5", cycle, n)
		}
		for i, v := range out {
			if v != expect {
				t.Fatalf("cycle %d index %d: got %d, want %d", cycle, i, v, expect)
			}
			expect++
		}
	}
	if !rb.Empty() {
		t.Error("ring should be empty after draining every cycle")
	}
}

func TestWrapAroundSingleItems(t *testing.T) {
	rb := New[int](8)
	for i := 0; i < 8*4; i++ {
		if !rb.TryWrite(i) {
			t.Fatalf("write %d failed", i)
		}
		v, ok := rb.TryRead()
		if !ok || v != i {
			t.Fatalf("read %d: got (%d, %v)", i, v, ok)
		}
	}
}

func TestPeekBulkDoesNotConsume(t *testing.T) {
	rb := New[int](16)
	rb.WriteBulk([]int{10, 11, 12, 13, 14, 15})

	peek := make([]int, 3)
	if n := rb.PeekBulk(peek, 2); n != 3 {
		t.Fatalf("PeekBulk returned %d, want 3", n)
	}
	want := []int{12, 13, 14}
	for i := range want {
		if peek[i] != want[i] {
			t.Errorf("peek[%d] = %d, want %d", i, peek[i], want[i])
		}
	}
	if rb.AvailableRead() != 6 {
		t.Errorf("peek consumed data: %d available, want 6", rb.AvailableRead())
	}

	if n := rb.PeekBulk(peek, 6); n != 0 {
		t.Errorf("PeekBulk past available returned %d, want 0", n)
	}
	if n := rb.PeekBulk(make([]int, 10), 4); n != 2 {
		t.Errorf("PeekBulk near end returned %d, want 2", n)
	}
	if n := rb.PeekBulk(peek, -1); n != 0 {
		t.Errorf("PeekBulk with negative offset returned %d, want 0", n)
	}
}

func TestPeekBulkAcrossWrap(t *testing.T) {
	rb := New[int](8)
	rb.WriteBulk([]int{0, 1, 2, 3, 4, 5})
	rb.ReadBulk(make([]int, 5))
	rb.WriteBulk([]int{6, 7, 8, 9, 10})

	out := make([]int, 6)
	if n := rb.PeekBulk(out, 0); n != 6 {
		t.Fatalf("PeekBulk returned %d, want 6", n)
	}
	for i, v := range out {
		if v != i+5 {
			t.Errorf("out[%d] = %d, want %d", i, v, i+5)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 200000
	rb := New[uint32](1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]uint32, 37)
		next := uint32(0)
		for next < total {
			n := 0
			for n < len(chunk) && next+uint32(n) < total {
				chunk[n] = next + uint32(n)
				n++
			}
			written := rb.WriteBulk(chunk[:n])
			next += uint32(written)
		}
	}()

	got := 0
	expect := uint32(0)
	buf := make([]uint32, 64)
	for got < total {
		n := rb.ReadBulk(buf)
		for i := 0; i < n; i++ {
			if buf[i] != expect {
				t.Fatalf("value %d: got %d, want %d", got+i, buf[i], expect)
			}
			expect++
		}
		got += n
	}
	wg.Wait()

	if got != total {
		t.Errorf("received %d values, want %d", got, total)
	}
	if !rb.Empty() {
		t.Error("ring should be empty after consumer drained everything")
	}
}

func TestConcurrentSingleItems(t *testing.T) {
	const total = 100000
	rb := New[int](64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; {
			if rb.TryWrite(i) {
				i++
			}
		}
	}()

	last := -1
	for count := 0; count < total; {
		v, ok := rb.TryRead()
		if !ok {
			continue
		}
		if v != last+1 {
			t.Fatalf("out of order: got %d after %d", v, last)
		}
		last = v
		count++
	}
	<-done
}
