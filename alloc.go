package memory

import "unsafe"

// Allocator owns the shared lock-free state: the page map, the descriptor
// pool, and one heap per size class. Its zero value is not usable; obtain
// one with NewAllocator, or use the package-level Default.
type Allocator struct {
	pages    pageProvider
	pageMap  *pageMap
	descPool *descriptorPool
	heaps    []*heap

	stats allocatorStats
}

// Default is the allocator used by the package-level NewCache,
// Configure, and the unsafe.Pointer-based convenience functions.
var Default = NewAllocator()

// NewAllocator builds an independent allocator with its own page map,
// descriptor pool, and heaps. Most programs want the single package-level
// Default; NewAllocator exists for tests and for callers that want
// isolated arenas.
func NewAllocator() *Allocator {
	ensureSizeClasses()
	a := &Allocator{
		pages:   osPages{},
		pageMap: newPageMap(),
	}
	a.descPool = newDescriptorPool(a.pages)
	a.heaps = make([]*heap, numSizeClasses())
	for i := range a.heaps {
		a.heaps[i] = newHeap(a, int32(i))
	}
	return a
}

// Allocate services a request of size bytes, consulting the cache first
// and falling back to Fill on a miss, or bypassing the engine entirely for
// oversized requests (§4.8). Allocate(0) returns a unique, freeable
// zero-length slice, matching the platform malloc(0) contract.
func (c *Cache) Allocate(size int) ([]byte, error) {
	p, usable, err := c.allocateRaw(size)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), usable)[:size], nil
}

func (c *Cache) allocateRaw(size int) (addr uintptr, usable int, err error) {
	if size < 0 {
		panic("memory: invalid allocation size")
	}

	sc := classOf(size)
	if sc == 0 {
		return c.a.allocateOversized(size)
	}

	bin := &c.bins[sc]
	if bin.count == 0 {
		if err := c.fill(sc); err != nil {
			return 0, 0, err
		}
	}
	addr = bin.pop()
	return addr, classes[sc].blockSize, nil
}

// allocateOversized mints a dedicated single-block descriptor and maps
// PAGE_CEILING(size) bytes directly, bypassing the engine (§4.8).
func (a *Allocator) allocateOversized(size int) (addr uintptr, usable int, err error) {
	if size == 0 {
		size = 1
	}
	mapped := pageCeiling(size)
	region, err := a.pages.Acquire(mapped)
	if err != nil {
		return 0, 0, err
	}

	d, descIdx, err := a.descPool.alloc()
	if err != nil {
		a.pages.Release(region)
		return 0, 0, err
	}

	base := uintptr(unsafe.Pointer(&region[0]))
	d.superblock = base
	d.sc = 0
	d.heapIdx = -1
	d.blockSize = int32(mapped)
	d.maxCount = 1
	d.sbPages = int32(mapped / osPageSize())
	d.anchor.Store(newAnchor(1, 1)) // FULL: the single block is already handed out

	a.pageMap.register(base, int(d.sbPages), descIdx, 0)
	a.stats.oversizedLive.Add(1)
	a.stats.bytesMapped.Add(int64(mapped))
	return base, mapped, nil
}

// Deallocate returns b, which must have come from Allocate/Calloc/Realloc
// on some Cache bound to the same Allocator. A nil/empty b is a no-op.
func (c *Cache) Deallocate(b []byte) error {
	full := cap2(b)
	if len(full) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&full[0]))
	return c.deallocateAddr(addr)
}

// cap2 re-slices b to its full capacity so Deallocate/Free behaves the way
// the teacher's allocator does: callers may pass a resliced view and still
// free the whole block.
func cap2(b []byte) []byte { return b[:cap(b)] }

func (c *Cache) deallocateAddr(addr uintptr) error {
	descIdx, sc, ok := c.a.pageMap.lookup(addr)
	if !ok {
		return ErrInvalidFree
	}
	if sc == 0 {
		return c.a.freeOversized(descIdx)
	}

	// AlignedAllocate may have handed out an address inside a block; the
	// bin holds block starts only, so re-canonicalize before pushing.
	d := c.a.descPool.descAt(descIdx)
	bin := &c.bins[sc]
	bin.push(d.blockAddr(d.blockIndex(addr)))
	if bin.count >= c.a.heaps[sc].cacheCapacity() {
		return c.flush(sc)
	}
	return nil
}

func (a *Allocator) freeOversized(descIdx uint32) error {
	d := a.descPool.descAt(descIdx)
	base := d.superblock
	pages := int(d.sbPages)
	mapped := int(d.blockSize)

	a.pageMap.unregister(base, pages)
	region := unsafe.Slice((*byte)(unsafe.Pointer(base)), pages*osPageSize())
	if err := a.pages.Release(region); err != nil {
		return err
	}
	a.descPool.retire(descIdx)
	a.stats.oversizedLive.Add(-1)
	a.stats.bytesMapped.Add(-int64(mapped))
	return nil
}

// Calloc allocates n*size bytes, zeroed, after checking for overflow.
func (c *Cache) Calloc(n, size int) ([]byte, error) {
	total, overflow := mulOverflows(n, size)
	if overflow {
		return nil, ErrSizeOverflow
	}
	b, err := c.Allocate(total)
	if err != nil {
		return nil, err
	}
	for i := range b {
		b[i] = 0
	}
	return b, nil
}

func mulOverflows(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	r := a * b
	return r, r/a != b
}

// Reallocate resizes b to size bytes, preserving min(size, usable-size-of-b)
// bytes of content (§4.8: naive allocate-copy-free).
func (c *Cache) Reallocate(b []byte, size int) ([]byte, error) {
	switch {
	case len(cap2(b)) == 0:
		return c.Allocate(size)
	case size == 0:
		return nil, c.Deallocate(b)
	}

	r, err := c.Allocate(size)
	if err != nil {
		return nil, err
	}
	copy(r, cap2(b))
	if err := c.Deallocate(b); err != nil {
		return nil, err
	}
	return r, nil
}

// AlignedAllocate returns size bytes aligned to align, which must be a
// power of two and a multiple of the pointer width (§4.8, the
// posix_memalign contract).
func (c *Cache) AlignedAllocate(align, size int) ([]byte, error) {
	if align == 0 || align&(align-1) != 0 || align%int(unsafe.Sizeof(uintptr(0))) != 0 {
		return nil, ErrBadAlignment
	}

	over := align
	if size > over {
		over = size
	}
	over *= 2

	addr, usable, err := c.allocateRaw(over)
	if err != nil {
		return nil, err
	}

	aligned := (addr + uintptr(align) - 1) &^ uintptr(align-1)

	if aligned != addr {
		if descIdx, sc, ok := c.a.pageMap.lookup(addr); ok && sc == 0 {
			alignedPage := aligned &^ uintptr(osPageSize()-1)
			c.a.pageMap.register(alignedPage, 1, descIdx, 0)
		}
	}

	end := addr + uintptr(usable)
	avail := int(end - aligned)
	return unsafe.Slice((*byte)(unsafe.Pointer(aligned)), avail)[:size], nil
}

// UnsafeAllocate is like Allocate except it returns an unsafe.Pointer,
// matching the teacher's dual safe/unsafe API pairing (its
// Malloc/UnsafeMalloc). Useful for callers that embed allocations in
// structs or pass them to cgo without carrying a slice header around.
func (c *Cache) UnsafeAllocate(size int) (unsafe.Pointer, error) {
	addr, _, err := c.allocateRaw(size)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(addr), nil
}

// UnsafeCalloc is like Calloc except it returns an unsafe.Pointer.
func (c *Cache) UnsafeCalloc(n, size int) (unsafe.Pointer, error) {
	total, overflow := mulOverflows(n, size)
	if overflow {
		return nil, ErrSizeOverflow
	}
	p, err := c.UnsafeAllocate(total)
	if err != nil {
		return nil, err
	}
	if p != nil {
		zero := unsafe.Slice((*byte)(p), total)
		for i := range zero {
			zero[i] = 0
		}
	}
	return p, nil
}

// UnsafeDeallocate is like Deallocate except its argument is an
// unsafe.Pointer that must have come from UnsafeAllocate/UnsafeCalloc/
// UnsafeReallocate on some Cache bound to the same Allocator. A nil p is a
// no-op.
func (c *Cache) UnsafeDeallocate(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	return c.deallocateAddr(uintptr(p))
}

// UnsafeReallocate is like Reallocate except its first argument and return
// value are unsafe.Pointer.
func (c *Cache) UnsafeReallocate(p unsafe.Pointer, size int) (unsafe.Pointer, error) {
	switch {
	case p == nil:
		return c.UnsafeAllocate(size)
	case size == 0:
		return nil, c.UnsafeDeallocate(p)
	}

	us := c.UnsafeUsableSize(p)
	r, err := c.UnsafeAllocate(size)
	if err != nil {
		return nil, err
	}
	if us > size {
		us = size
	}
	copy(unsafe.Slice((*byte)(r), us), unsafe.Slice((*byte)(p), us))
	return r, c.UnsafeDeallocate(p)
}

// UnsafeUsableSize is like UsableSize except its argument is an
// unsafe.Pointer that must have come from UnsafeAllocate/UnsafeCalloc/
// UnsafeReallocate.
func (c *Cache) UnsafeUsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	return c.a.usableSizeAddr(uintptr(p))
}

// UsableSize reports how many bytes the allocation backing b's first byte
// can actually hold, which may exceed the size originally requested.
func (c *Cache) UsableSize(b []byte) int {
	full := cap2(b)
	if len(full) == 0 {
		return 0
	}
	return c.a.usableSizeAddr(uintptr(unsafe.Pointer(&full[0])))
}

func (a *Allocator) usableSizeAddr(addr uintptr) int {
	descIdx, sc, ok := a.pageMap.lookup(addr)
	if !ok {
		return 0
	}
	if sc == 0 {
		return int(a.descPool.descAt(descIdx).blockSize)
	}
	return classes[sc].blockSize
}
