// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memory

import "testing"

func TestCacheFlushesAtCapacity(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()
	defer c.Close()

	sc := classOf(64)
	capacity := a.heaps[sc].cacheCapacity()

	bufs := make([][]byte, capacity)
	for i := range bufs {
		b, err := c.Allocate(64)
		if err != nil {
			t.Fatal(err)
		}
		bufs[i] = b
	}

	for i, b := range bufs {
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
		if got := c.bins[sc].count; got > capacity {
			t.Fatalf("after free %d: bin count %d exceeds capacity %d", i, got, capacity)
		}
	}
}

func TestCacheCloseDrainsAllBins(t *testing.T) {
	a := NewAllocator()
	c := a.NewCache()

	for _, size := range []int{8, 64, 512, 4096} {
		b, err := c.Allocate(size)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	for i, bin := range c.bins {
		if bin.count != 0 {
			t.Fatalf("bin %d: count %d after Close, want 0", i, bin.count)
		}
	}
}

func TestCacheCapacityOverrideTakesEffect(t *testing.T) {
	a := NewAllocator()
	sc := classOf(128)
	a.heaps[sc].setCacheCapacityOverride(3)

	if got := a.heaps[sc].cacheCapacity(); got != 3 {
		t.Fatalf("cacheCapacity = %d, want 3", got)
	}

	c := a.NewCache()
	defer c.Close()

	bufs := make([][]byte, 3)
	for i := range bufs {
		b, err := c.Allocate(128)
		if err != nil {
			t.Fatal(err)
		}
		bufs[i] = b
	}
	for _, b := range bufs {
		if err := c.Deallocate(b); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.bins[sc].count; got > 3 {
		t.Fatalf("bin count %d exceeds overridden capacity 3", got)
	}
}
