// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memory

import (
	"bytes"
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
)

// quota bounds how many bytes these scenarios allocate before verifying and
// freeing everything, mirroring the teacher's all_test.go budget.
const quota = 16 << 20

func scenarioAllocateThenVerifyThenShuffleThenFree(t *testing.T, max int) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	rem := quota
	var bufs [][]byte
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)
	pos := rng.Pos()

	for rem > 0 {
		size := int(rng.Next())%max + 1
		rem -= size
		b, err := c.Allocate(size)
		if err != nil {
			t.Fatal(err)
		}
		bufs = append(bufs, b)
		for i := range b {
			b[i] = byte(rng.Next())
		}
	}
	t.Logf("allocs %d, stats %+v", len(bufs), a.Stats())

	rng.Seek(pos)
	for i, b := range bufs {
		if g, e := len(b), int(rng.Next())%max+1; g != e {
			t.Fatalf("buf %d: len %d, want %d", i, g, e)
		}
		for j, g := range b {
			if e := byte(rng.Next()); g != e {
				t.Fatalf("buf %d byte %d: got %#02x, want %#02x", i, j, g, e)
			}
			b[j] = 0
		}
	}

	for i := range bufs {
		j := int(rng.Next()) % len(bufs)
		bufs[i], bufs[j] = bufs[j], bufs[i]
	}

	for _, b := range bufs {
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}

	// Deallocate only stages blocks in the cache; Close drains every bin
	// back to the heap so the leak check below sees the true state.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.BytesMapped != 0 || st.OversizedLive != 0 {
		t.Fatalf("leaked after freeing everything: %+v", st)
	}
}

func TestAllocateVerifyShuffleFreeSmall(t *testing.T) {
	scenarioAllocateThenVerifyThenShuffleThenFree(t, 2*osPageSize())
}

func TestAllocateVerifyShuffleFreeBig(t *testing.T) {
	scenarioAllocateThenVerifyThenShuffleThenFree(t, 2*maxSmallSize)
}

func scenarioAllocateVerifyFreeInterleaved(t *testing.T, max int) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	rem := quota
	var bufs [][]byte
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)
	pos := rng.Pos()

	for rem > 0 {
		size := int(rng.Next())%max + 1
		rem -= size
		b, err := c.Allocate(size)
		if err != nil {
			t.Fatal(err)
		}
		bufs = append(bufs, b)
		for i := range b {
			b[i] = byte(rng.Next())
		}
	}

	rng.Seek(pos)
	for i, b := range bufs {
		if g, e := len(b), int(rng.Next())%max+1; g != e {
			t.Fatalf("buf %d: len %d, want %d", i, g, e)
		}
		for j, g := range b {
			if e := byte(rng.Next()); g != e {
				t.Fatalf("buf %d byte %d: got %#02x, want %#02x", i, j, g, e)
			}
			b[j] = 0
		}
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.BytesMapped != 0 || st.OversizedLive != 0 {
		t.Fatalf("leaked after freeing everything: %+v", st)
	}
}

func TestAllocateVerifyFreeInterleavedSmall(t *testing.T) {
	scenarioAllocateVerifyFreeInterleaved(t, 2*osPageSize())
}

func TestAllocateVerifyFreeInterleavedBig(t *testing.T) {
	scenarioAllocateVerifyFreeInterleaved(t, 2*maxSmallSize)
}

// TestRandomAllocateFreeMix exercises a random mix of allocate/free, keeping
// a shadow copy of every live buffer's contents, verifying nothing was
// corrupted by a neighbor's reuse before releasing everything.
func TestRandomAllocateFreeMix(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	rem := quota
	live := map[*[]byte][]byte{}
	rng, err := mathutil.NewFC32(1, 4096, true)
	if err != nil {
		t.Fatal(err)
	}

	for rem > 0 {
		switch int(rng.Next()) % 3 {
		case 0, 1:
			size := int(rng.Next())
			rem -= size
			b, err := c.Allocate(size)
			if err != nil {
				t.Fatal(err)
			}
			for i := range b {
				b[i] = byte(i)
			}
			live[&b] = append([]byte(nil), b...)
		default:
			for k, v := range live {
				b := *k
				if !bytes.Equal(b, v) {
					t.Fatal("corrupted live allocation before free")
				}
				rem += len(b)
				if err := c.Deallocate(b); err != nil {
					t.Fatal(err)
				}
				delete(live, k)
				break
			}
		}
	}

	for k, v := range live {
		b := *k
		if !bytes.Equal(b, v) {
			t.Fatal("corrupted live allocation at teardown")
		}
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.BytesMapped != 0 || st.OversizedLive != 0 {
		t.Fatalf("leaked after freeing everything: %+v", st)
	}
}

func TestAllocateZeroReturnsUniqueFreeablePointer(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	b1, err := c.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := c.Allocate(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(b1) != 0 || len(b2) != 0 {
		t.Fatalf("len(b1)=%d len(b2)=%d, want 0", len(b1), len(b2))
	}
	if cap(b1) == 0 {
		t.Fatal("allocate(0) must still own backing storage, not a bare nil")
	}
	if err := c.Deallocate(b1); err != nil {
		t.Fatal(err)
	}
	if err := c.Deallocate(b2); err != nil {
		t.Fatal(err)
	}
}

func TestDeallocateOfEmptySliceIsNoop(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	if err := c.Deallocate(nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Deallocate([]byte{}); err != nil {
		t.Fatal(err)
	}
}

func TestDeallocateUnknownAddressFails(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	stack := make([]byte, 16)
	if err := c.Deallocate(stack); err != ErrInvalidFree {
		t.Fatalf("got %v, want ErrInvalidFree", err)
	}
}

func TestOversizedAllocateFree(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	size := maxSmallSize + 1
	b, err := c.Allocate(size)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != size {
		t.Fatalf("len = %d, want %d", len(b), size)
	}
	if st := a.Stats(); st.OversizedLive != 1 {
		t.Fatalf("OversizedLive = %d, want 1", st.OversizedLive)
	}
	if err := c.Deallocate(b); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.OversizedLive != 0 || st.BytesMapped != 0 {
		t.Fatalf("leaked oversized allocation: %+v", st)
	}
}

func TestCallocZeroesAndDetectsOverflow(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	b, err := c.Calloc(8, 16)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range b {
		if v != 0 {
			t.Fatal("Calloc must zero its result")
		}
	}
	if err := c.Deallocate(b); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Calloc(math.MaxInt, 2); err != ErrSizeOverflow {
		t.Fatalf("got %v, want ErrSizeOverflow", err)
	}
}

func TestReallocatePreservesContentUpToMin(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	b, err := c.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b {
		b[i] = byte(i)
	}

	grown, err := c.Reallocate(b, 256)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 64; i++ {
		if grown[i] != byte(i) {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, grown[i], byte(i))
		}
	}

	shrunk, err := c.Reallocate(grown, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(shrunk) != 8 {
		t.Fatalf("len = %d, want 8", len(shrunk))
	}

	if err := c.Deallocate(shrunk); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.BytesMapped != 0 {
		t.Fatalf("leaked: %+v", st)
	}
}

func TestReallocateToZeroFrees(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	b, err := c.Allocate(32)
	if err != nil {
		t.Fatal(err)
	}
	if r, err := c.Reallocate(b, 0); err != nil || r != nil {
		t.Fatalf("Reallocate(b, 0) = (%v, %v), want (nil, nil)", r, err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if st := a.Stats(); st.BytesMapped != 0 {
		t.Fatalf("leaked: %+v", st)
	}
}

func TestAlignedAllocateSatisfiesAlignment(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	for _, align := range []int{8, 16, 64, 4096} {
		b, err := c.AlignedAllocate(align, 100)
		if err != nil {
			t.Fatal(err)
		}
		addr := uintptr(unsafe.Pointer(&b[0]))
		if addr%uintptr(align) != 0 {
			t.Fatalf("align=%d: address %#x not aligned", align, addr)
		}
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAlignedAllocateRejectsBadAlignment(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	if _, err := c.AlignedAllocate(3, 16); err != ErrBadAlignment {
		t.Fatalf("got %v, want ErrBadAlignment", err)
	}
	if _, err := c.AlignedAllocate(0, 16); err != ErrBadAlignment {
		t.Fatalf("got %v, want ErrBadAlignment", err)
	}
}

func TestUsableSizeAtLeastRequested(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	for _, size := range []int{1, 17, 100, 4000, maxSmallSize + 10} {
		b, err := c.Allocate(size)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.UsableSize(b); got < size {
			t.Fatalf("size %d: UsableSize = %d", size, got)
		}
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}
}
