package memory

import "errors"

// Error kinds surfaced by the public API (§7 of the design).
//
// Internal CAS retry loops are never errors; they are bounded by
// contention and resolve without caller-visible failure.
var (
	// ErrOOM is returned when the OS refused to hand back page-aligned
	// memory. It is the Go analogue of ENOMEM.
	ErrOOM = errors.New("memory: out of memory")

	// ErrBadAlignment is returned by AlignedAllocate/PosixMemalign when
	// align is not a power of two or not a multiple of the pointer width.
	ErrBadAlignment = errors.New("memory: invalid alignment")

	// ErrSizeOverflow is returned by Calloc when n*size overflows.
	ErrSizeOverflow = errors.New("memory: size overflow")

	// ErrInvalidFree is returned (in release builds, only on a best-effort
	// basis) when an address handed to Deallocate/Free was never returned
	// by this allocator, i.e. it has no entry in the page map.
	ErrInvalidFree = errors.New("memory: invalid free")

	// ErrDoubleFree is the value the allocator panics with, on a
	// best-effort basis, when a freed block's anchor transition would
	// imply more free blocks than the superblock has capacity for — the
	// signature of a double free. It is not returned as an error.
	ErrDoubleFree = errors.New("memory: double free detected")
)
