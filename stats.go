package memory

import "sync/atomic"

// allocatorStats holds the atomics backing Stats. It generalizes the
// teacher's plain int counters (allocs, bytes, mmaps) into atomics, since
// many goroutines now touch them concurrently.
type allocatorStats struct {
	bytesMapped   atomic.Int64
	oversizedLive atomic.Int64
}

// Stats is a point-in-time snapshot of allocator-wide bookkeeping. It is
// diagnostic only: nothing in the allocation/deallocation fast path
// depends on it being precise.
type Stats struct {
	BytesMapped     int64
	OversizedLive   int64
	DescriptorSlabs int
	SizeClasses     int
}

// Stats returns a snapshot of a's bookkeeping counters.
func (a *Allocator) Stats() Stats {
	slabs := a.descPool.slabs.Load()
	return Stats{
		BytesMapped:     a.stats.bytesMapped.Load(),
		OversizedLive:   a.stats.oversizedLive.Load(),
		DescriptorSlabs: len(*slabs),
		SizeClasses:     len(a.heaps),
	}
}
