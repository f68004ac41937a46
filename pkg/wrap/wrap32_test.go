package wrap

import "testing"

func TestWrapBoundary(t *testing.T) {
	isn := WrapUint32(0)

	if got := Wrap(1<<32, isn); got.Raw() != 0 {
		t.Errorf("wrap(2^32, 0) = %d, want 0", got.Raw())
	}

	one := WrapUint32(1)
	if got := one.Unwrap(WrapUint32(0), 1<<33); got != (1<<33)+1 {
		t.Errorf("Wrap32(1).unwrap(0, 2^33) = %d, want %d", got, (uint64(1)<<33)+1)
	}

	if got := WrapUint32(0).Unwrap(WrapUint32(0), 0); got != 0 {
		t.Errorf("Wrap32(0).unwrap(0, 0) = %d, want 0", got)
	}
}

func TestUnwrapRoundTrip(t *testing.T) {
	isns := []Wrap32{WrapUint32(0), WrapUint32(1), WrapUint32(1 << 31), WrapUint32(0xffffffff)}
	checkpoints := []uint64{0, 1, 1 << 16, 1 << 32, (1 << 32) + 17, 1 << 40}

	for _, isn := range isns {
		for _, cp := range checkpoints {
			n := cp
			got := Wrap(n, isn).Unwrap(isn, cp)
			if got != n {
				t.Errorf("isn=%d checkpoint=%d: wrap(%d).unwrap(checkpoint=%d) = %d, want %d",
					isn.Raw(), cp, n, cp, got, n)
			}
		}
	}
}

func TestUnwrapPicksClosest(t *testing.T) {
	isn := WrapUint32(1000)
	// A value exactly half an era away from the checkpoint 2^32: the
	// candidates 2^31 and 2^32+2^31 are equally close, so the smaller one
	// must win.
	w := Wrap(uint64(1)<<31, isn)
	got := w.Unwrap(isn, uint64(1)<<32)
	if got != uint64(1)<<31 {
		t.Errorf("tie-break: got %d, want %d", got, uint64(1)<<31)
	}
}
