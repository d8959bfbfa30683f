// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memory

import (
	"testing"
	"unsafe"
)

func TestPackageLevelMallocFreeRoundTrip(t *testing.T) {
	b, err := Malloc(128)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 128 {
		t.Fatalf("len = %d, want 128", len(b))
	}
	if UsableSize(b) < 128 {
		t.Fatalf("UsableSize = %d, want >= 128", UsableSize(b))
	}
	if err := Free(b); err != nil {
		t.Fatal(err)
	}
}

func TestPackageLevelCallocZeroes(t *testing.T) {
	b, err := Calloc(4, 32)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range b {
		if v != 0 {
			t.Fatal("Calloc must zero its result")
		}
	}
	if err := Free(b); err != nil {
		t.Fatal(err)
	}
}

func TestPackageLevelReallocGrows(t *testing.T) {
	b, err := Malloc(16)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b {
		b[i] = byte(i)
	}
	grown, err := Realloc(b, 64)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		if grown[i] != byte(i) {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, grown[i], byte(i))
		}
	}
	if err := Free(grown); err != nil {
		t.Fatal(err)
	}
}

func TestPackageLevelAlignedAlloc(t *testing.T) {
	b, err := AlignedAlloc(64, 200)
	if err != nil {
		t.Fatal(err)
	}
	if err := Free(b); err != nil {
		t.Fatal(err)
	}
}

func TestPackageLevelPosixMemalignRejectsBadAlignment(t *testing.T) {
	if _, err := PosixMemalign(100, 10); err != ErrBadAlignment {
		t.Fatalf("got %v, want ErrBadAlignment", err)
	}
}

func TestPackageLevelUnsafeRoundTrip(t *testing.T) {
	p, err := UnsafeMalloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if UnsafeUsableSize(p) < 64 {
		t.Fatalf("UnsafeUsableSize = %d, want >= 64", UnsafeUsableSize(p))
	}
	b := unsafe.Slice((*byte)(p), 64)
	for i := range b {
		b[i] = byte(i)
	}

	grown, err := UnsafeRealloc(p, 256)
	if err != nil {
		t.Fatal(err)
	}
	gb := unsafe.Slice((*byte)(grown), 256)
	for i := 0; i < 64; i++ {
		if gb[i] != byte(i) {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, gb[i], byte(i))
		}
	}

	if err := UnsafeFree(grown); err != nil {
		t.Fatal(err)
	}
}

func TestPackageLevelUnsafeCallocZeroes(t *testing.T) {
	p, err := UnsafeCalloc(8, 16)
	if err != nil {
		t.Fatal(err)
	}
	b := unsafe.Slice((*byte)(p), 128)
	for _, v := range b {
		if v != 0 {
			t.Fatal("UnsafeCalloc must zero its result")
		}
	}
	if err := UnsafeFree(p); err != nil {
		t.Fatal(err)
	}
}

func TestUnsafeFreeOfNilIsNoop(t *testing.T) {
	if err := UnsafeFree(nil); err != nil {
		t.Fatal(err)
	}
}
