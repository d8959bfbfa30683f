package memory

import (
	"os"
	"strconv"
	"sync"
)

// A sizeClass is the immutable record described in §3 of the design: a
// fixed block size, the superblock size it is carved from, how many blocks
// fit exactly in one superblock, and how many blocks a Cache is allowed to
// hold for this class before it must Flush.
//
// Index 0 is reserved for "oversized": requests too large for any class,
// serviced by mapping dedicated pages directly.
type sizeClass struct {
	blockSize           int
	sbSize              int
	blocksPerSuperblock int
	cacheCapacity       int
}

// blockSizes is the compile-time list of block sizes the allocator
// services through the engine. It mirrors the common small/medium object
// classes used by tcmalloc-style allocators; it is not dictated by the
// design, which treats the concrete table as an external, swappable input.
var blockSizes = []int{
	8, 16, 24, 32, 48, 64, 80, 96, 112, 128,
	160, 192, 224, 256, 320, 384, 448, 512,
	640, 768, 896, 1024, 1280, 1536, 1792, 2048,
	2560, 3072, 3584, 4096, 6144, 8192, 12288, 16384,
	24576, 32768,
}

const minBlocksPerSuperblock = 2

var (
	sizeClassesOnce sync.Once
	classes         []sizeClass // index 0 is the oversized sentinel
	classLookup     []int8      // classLookup[n] = smallest class index whose blockSize >= n, for n in [0, maxSmallSize]
	maxSmallSize    int
)

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

// deriveCacheCapacity scales the thread-cache capacity with how many
// blocks fit in a superblock: small blocks get deep caches, large blocks
// get shallow ones, and every class is clamped to a sane range.
func deriveCacheCapacity(blocksPerSuperblock int) int {
	c := blocksPerSuperblock / 4
	if c < 8 {
		c = 8
	}
	if c > 256 {
		c = 256
	}
	return c
}

func buildSizeClasses() {
	pageSize := os.Getpagesize()

	classes = make([]sizeClass, 0, len(blockSizes)+1)
	classes = append(classes, sizeClass{}) // index 0: oversized sentinel

	maxSmallSize = blockSizes[len(blockSizes)-1]
	classLookup = make([]int8, maxSmallSize+1)

	for _, bs := range blockSizes {
		sb := lcm(pageSize, bs)
		for sb/bs < minBlocksPerSuperblock {
			sb += lcm(pageSize, bs)
		}
		bpsb := sb / bs
		classes = append(classes, sizeClass{
			blockSize:           bs,
			sbSize:              sb,
			blocksPerSuperblock: bpsb,
			cacheCapacity:       deriveCacheCapacity(bpsb),
		})
	}

	// classLookup[n] = smallest index whose blockSize >= n.
	idx := int8(len(classes) - 1)
	for n := maxSmallSize; n >= 0; n-- {
		for idx > 1 && classes[idx-1].blockSize >= n {
			idx--
		}
		classLookup[n] = idx
	}
}

func ensureSizeClasses() {
	sizeClassesOnce.Do(buildSizeClasses)
}

// classOf returns the size-class index servicing a request of size n
// bytes, or 0 if n exceeds every class (oversized path).
func classOf(n int) int {
	ensureSizeClasses()
	if n <= 0 {
		return 1 // degenerate non-zero allocation still needs a slot
	}
	if n > maxSmallSize {
		return 0
	}
	return int(classLookup[n])
}

func numSizeClasses() int {
	ensureSizeClasses()
	return len(classes)
}

// classIndexForKey resolves a TOML cache_capacity key (a decimal block
// size) to a size-class index, or 0 if no class matches.
func (a *Allocator) classIndexForKey(key string) int {
	bs, err := strconv.Atoi(key)
	if err != nil {
		return 0
	}
	ensureSizeClasses()
	for i, sc := range classes {
		if i == 0 {
			continue
		}
		if sc.blockSize == bs {
			return i
		}
	}
	return 0
}
