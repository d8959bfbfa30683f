package memory

import (
	"sync/atomic"
	"unsafe"
)

// heap is the per-size-class owner of the partial-superblock stack. It
// drives refill in the strict order described by §4.5: drain an existing
// partial superblock before minting a new one.
type heap struct {
	sc      int32
	a       *Allocator
	partial taggedStack

	capacityOverride atomic.Int32 // 0 means "use the size class default"
}

func newHeap(a *Allocator, sc int32) *heap {
	h := &heap{sc: sc, a: a}
	h.partial.head.Store(newEmptyTaggedStack())
	return h
}

func (h *heap) partialNextOf(idx uint32) *uint32 {
	return &h.a.descPool.descAt(idx).partialNext
}

func (h *heap) pushPartial(idx uint32) {
	h.partial.push(idx, h.partialNextOf)
}

func (h *heap) popPartial() (uint32, *descriptor, bool) {
	idx, ok := h.partial.pop(h.partialNextOf)
	if !ok {
		return 0, nil, false
	}
	return idx, h.a.descPool.descAt(idx), true
}

func (h *heap) setCacheCapacityOverride(n int) {
	h.capacityOverride.Store(int32(n))
}

func (h *heap) cacheCapacity() int {
	if n := h.capacityOverride.Load(); n > 0 {
		return int(n)
	}
	return classes[h.sc].cacheCapacity
}

// refill gathers up to want block addresses for this size class, preferring
// blocks already sitting in a partial superblock and minting a fresh one
// only once the partial stack is exhausted. Order among the returned
// blocks is unspecified, matching §4.6's Fill contract.
func (h *heap) refill(want int) ([]uintptr, error) {
	out := make([]uintptr, 0, want)

	for len(out) < want {
		descIdx, d, ok := h.popPartial()
		if !ok {
			break
		}

		got, stillPartial := reserveBlocks(d, want-len(out))
		for _, idx := range got {
			out = append(out, d.blockAddr(idx))
		}
		if stillPartial {
			h.pushPartial(descIdx)
		}
	}

	sc := &classes[h.sc]
	for len(out) < want {
		blocks, err := h.mintSuperblock(sc, want-len(out))
		if err != nil {
			return out, err
		}
		if len(blocks) == 0 {
			break
		}
		out = append(out, blocks...)
	}

	return out, nil
}

// mintSuperblock requests fresh pages, wires an intrusive free list over
// them, publishes the new descriptor to the page map, and hands back up to
// want freshly reserved block addresses (§4.5 part ii).
func (h *heap) mintSuperblock(sc *sizeClass, want int) ([]uintptr, error) {
	region, err := h.a.pages.Acquire(sc.sbSize)
	if err != nil {
		logOSAllocFailure(sc.sbSize, err)
		return nil, err
	}

	d, descIdx, err := h.a.descPool.alloc()
	if err != nil {
		h.a.pages.Release(region)
		return nil, err
	}

	k := want
	if k > sc.blocksPerSuperblock {
		k = sc.blocksPerSuperblock
	}

	base := uintptr(unsafe.Pointer(&region[0]))
	d.superblock = base
	d.sc = h.sc
	d.heapIdx = h.sc
	d.blockSize = int32(sc.blockSize)
	d.maxCount = int32(sc.blocksPerSuperblock)
	d.sbPages = int32(sc.sbSize / osPageSize())

	// Wire the intrusive free list over the blocks not handed out, each
	// node's first word pointing at the next free index; the last node
	// terminates with sbAvailNone.
	for i := k; i < sc.blocksPerSuperblock; i++ {
		next := int32(i + 1)
		if i == sc.blocksPerSuperblock-1 {
			next = int32(sbAvailNone)
		}
		d.setNextFree(int32(i), next)
	}

	d.anchor.Store(newAnchor(sc.blocksPerSuperblock, k))

	// The page map registration must happen-before this descriptor is
	// reachable from the partial stack, so that a concurrent Deallocate
	// that discovers it via an address can safely dereference it.
	h.a.pageMap.register(base, int(d.sbPages), descIdx, h.sc)

	if k < sc.blocksPerSuperblock {
		h.pushPartial(descIdx)
	}

	h.a.stats.bytesMapped.Add(int64(sc.sbSize))
	logSuperblockMinted(int(h.sc), sc.blockSize, sc.blocksPerSuperblock)

	out := make([]uintptr, k)
	for i := 0; i < k; i++ {
		out[i] = d.blockAddr(int32(i))
	}
	return out, nil
}
