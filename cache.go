package memory

import (
	"runtime"
	"unsafe"
)

// bin is a single size class's slice of a Cache: a purely local,
// non-atomic singly-linked stack of free block addresses (§4.6). Nothing
// in bin touches an atomic; all contention is pushed down into Fill/Flush.
type bin struct {
	head  uintptr // address of the top block, or 0 if empty
	count int
}

func (b *bin) push(addr uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = b.head
	b.head = addr
	b.count++
}

func (b *bin) pop() uintptr {
	addr := b.head
	b.head = *(*uintptr)(unsafe.Pointer(addr))
	b.count--
	return addr
}

// Cache is the Go-native stand-in for the spec's implicit, TLS-resident
// thread cache: an explicit handle a goroutine obtains once (analogous to
// pinning a per-P mcache) and uses for the lifetime of its allocation
// work. A Cache is not safe for concurrent use by multiple goroutines, but
// any Cache may free a block that was allocated through a different
// Cache — that's the "cross-thread free" the page map makes safe.
type Cache struct {
	a    *Allocator
	bins []bin
}

// NewCache obtains a new per-goroutine allocation handle bound to the
// default Allocator.
func NewCache() *Cache { return Default.NewCache() }

// NewCache obtains a new per-goroutine allocation handle bound to a.
func (a *Allocator) NewCache() *Cache {
	ensureSizeClasses()
	c := &Cache{a: a, bins: make([]bin, numSizeClasses())}
	runtime.SetFinalizer(c, func(c *Cache) { c.Close() })
	return c
}

// Close flushes every nonempty bin back to its owning superblocks. This is
// the Go realization of the spec's thread-exit hook (§5); call it
// explicitly when a goroutine is done allocating. A finalizer is also
// installed as a backstop, but finalizers are not guaranteed to run
// promptly, so relying on one alone will leak cached blocks for a while.
func (c *Cache) Close() error {
	runtime.SetFinalizer(c, nil)
	for sc := 1; sc < len(c.bins); sc++ {
		for c.bins[sc].count > 0 {
			if err := c.flushOne(sc); err != nil {
				return err
			}
		}
	}
	return nil
}

// fill is invoked only when bin sc is empty (§4.6): it pulls up to the
// class's cache capacity worth of blocks from the heap and stages them.
func (c *Cache) fill(sc int) error {
	h := c.a.heaps[sc]
	want := h.cacheCapacity()
	blocks, err := h.refill(want)
	for _, addr := range blocks {
		c.bins[sc].push(addr)
	}
	if len(blocks) == 0 {
		if err != nil {
			return err
		}
		return ErrOOM
	}
	return nil
}

// flush drains bin sc one block at a time back to its owning superblock,
// per §4.7.
func (c *Cache) flush(sc int) error {
	capacity := c.a.heaps[sc].cacheCapacity()
	// Drain down to half capacity in one go, the way bulk flush engines
	// amortize the return cost instead of flushing to empty.
	target := capacity / 2
	for c.bins[sc].count > target {
		if err := c.flushOne(sc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) flushOne(sc int) error {
	addr := c.bins[sc].pop()
	return c.a.returnBlockAddr(addr)
}

// returnBlockAddr resolves addr's descriptor via the page map and runs the
// §4.3/§4.7 anchor transition, unmapping the superblock if the return made
// it entirely free.
func (a *Allocator) returnBlockAddr(addr uintptr) error {
	descIdx, sc, ok := a.pageMap.lookup(addr)
	if !ok {
		return ErrInvalidFree
	}
	d := a.descPool.descAt(descIdx)

	// Snapshot everything needed after the CAS: once returnBlock's CAS
	// succeeds, d may already have been recycled to an unrelated
	// superblock, so no field of d may be read past that point.
	blockSize := int(d.blockSize)
	superblock := d.superblock
	heapIdx := int(sc)
	sbPages := int(d.sbPages)

	blockIdx := int32((addr - superblock) / uintptr(blockSize))

	switch returnBlock(d, blockIdx) {
	case returnedBecameFull:
		a.heaps[heapIdx].pushPartial(descIdx)
	case returnedBecameEmpty:
		a.pageMap.unregister(superblock, sbPages)
		region := unsafe.Slice((*byte)(unsafe.Pointer(superblock)), sbPages*osPageSize())
		if err := a.pages.Release(region); err != nil {
			return err
		}
		a.descPool.retire(descIdx)
		a.stats.bytesMapped.Add(-int64(sbPages * osPageSize()))
		logSuperblockRetired(heapIdx, blockSize)
	}
	return nil
}
