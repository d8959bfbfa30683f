package memory

import (
	"sync"
	"unsafe"
)

// The functions below mirror the platform C allocator surface named in
// the design's external interfaces section (malloc/free/calloc/realloc/
// posix_memalign/aligned_alloc/usable_size) for callers that don't want to
// manage a Cache themselves. Each call borrows a pooled Cache bound to
// Default for its duration; a caller doing many allocations in a loop
// should prefer NewCache directly; a pooled Cache here still correctly
// drains its bins back to the shared superblocks on every Close, so
// borrowing one per call is always safe, just not maximally fast.
var defaultCachePool = sync.Pool{
	New: func() any { return Default.NewCache() },
}

func borrowCache() *Cache {
	return defaultCachePool.Get().(*Cache)
}

func returnCache(c *Cache) {
	defaultCachePool.Put(c)
}

// Malloc allocates size bytes on Default and returns them unzeroed.
func Malloc(size int) ([]byte, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.Allocate(size)
}

// Free releases b, which must have come from Malloc/Calloc/Realloc on
// Default (or any Cache bound to it). A nil/empty b is a no-op.
func Free(b []byte) error {
	c := borrowCache()
	defer returnCache(c)
	return c.Deallocate(b)
}

// Calloc allocates n*size zeroed bytes on Default.
func Calloc(n, size int) ([]byte, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.Calloc(n, size)
}

// Realloc resizes b to size bytes on Default.
func Realloc(b []byte, size int) ([]byte, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.Reallocate(b, size)
}

// AlignedAlloc returns size bytes aligned to align on Default.
func AlignedAlloc(align, size int) ([]byte, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.AlignedAllocate(align, size)
}

// PosixMemalign is AlignedAlloc under the POSIX name, returning ErrOOM on
// OS page failure and ErrBadAlignment when align is not a power of two
// and a multiple of the pointer width, matching the posix_memalign
// contract in §6.
func PosixMemalign(align, size int) ([]byte, error) {
	return AlignedAlloc(align, size)
}

// UsableSize reports the usable size of the allocation backing b on
// Default.
func UsableSize(b []byte) int {
	c := borrowCache()
	defer returnCache(c)
	return c.UsableSize(b)
}

// UnsafeMalloc is like Malloc except it returns an unsafe.Pointer.
func UnsafeMalloc(size int) (unsafe.Pointer, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.UnsafeAllocate(size)
}

// UnsafeCalloc is like Calloc except it returns an unsafe.Pointer.
func UnsafeCalloc(n, size int) (unsafe.Pointer, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.UnsafeCalloc(n, size)
}

// UnsafeFree is like Free except its argument is an unsafe.Pointer that
// must have come from UnsafeMalloc/UnsafeCalloc/UnsafeRealloc.
func UnsafeFree(p unsafe.Pointer) error {
	c := borrowCache()
	defer returnCache(c)
	return c.UnsafeDeallocate(p)
}

// UnsafeRealloc is like Realloc except its first argument and return value
// are unsafe.Pointer.
func UnsafeRealloc(p unsafe.Pointer, size int) (unsafe.Pointer, error) {
	c := borrowCache()
	defer returnCache(c)
	return c.UnsafeReallocate(p, size)
}

// UnsafeUsableSize is like UsableSize except its argument is an
// unsafe.Pointer that must have come from UnsafeMalloc/UnsafeCalloc/
// UnsafeRealloc.
func UnsafeUsableSize(p unsafe.Pointer) int {
	c := borrowCache()
	defer returnCache(c)
	return c.UnsafeUsableSize(p)
}
