package memory

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// descriptorsPerSlab is how many descriptor records one arena chunk
// carves up. Slabs, once mapped, are never returned to the OS: the
// descriptors inside them are recycled through descPool forever.
const descriptorsPerSlab = 4096

// descriptor is the metadata record for one superblock. It is allocated
// once from a descriptorSlab and is never freed: only its association
// with a superblock is retired and re-established. That invariant is what
// lets pageMap lookups dereference a descriptor pointer discovered from an
// arbitrary, possibly-stale address without ever faulting.
type descriptor struct {
	anchor atomic.Uint64

	superblock uintptr // base address of the owned superblock
	sc         int32   // size-class index; 0 iff oversized
	heapIdx    int32   // index into Allocator.heaps; -1 iff oversized
	blockSize  int32
	maxCount   int32 // blocksPerSuperblock
	sbPages    int32 // OS pages spanned by the superblock

	freePoolNext uint32 // next-index while linked into descPool's free stack
	partialNext  uint32 // next-index while linked into a heap's partial stack

	_pad [16]byte // approximate cache-line padding, avoids false sharing on anchor
}

func (d *descriptor) blockAddr(idx int32) uintptr {
	return d.superblock + uintptr(idx)*uintptr(d.blockSize)
}

func (d *descriptor) blockIndex(addr uintptr) int32 {
	return int32((addr - d.superblock) / uintptr(d.blockSize))
}

// nextFree reads the intrusive free-list link stored in block idx's first
// machine word.
func (d *descriptor) nextFree(idx int32) int32 {
	p := (*int32)(unsafe.Pointer(d.blockAddr(idx)))
	return *p
}

func (d *descriptor) setNextFree(idx int32, next int32) {
	p := (*int32)(unsafe.Pointer(d.blockAddr(idx)))
	*p = next
}

type descriptorSlab struct {
	base  uintptr
	pages int
	descs []descriptor
}

// descriptorPool is the never-freed stack of recyclable descriptors
// described in §4.2: CAS-pop to obtain one, CAS-push to retire it, and on
// exhaustion mint a fresh slab and chain it onto the stack.
type descriptorPool struct {
	free  taggedStack
	pages pageProvider
	slabs atomic.Pointer[[]*descriptorSlab]

	growMu sync.Mutex // held only while minting a new slab, not on the hot path

	chunkPagesMu sync.RWMutex
	chunkPages   int
}

func newDescriptorPool(pages pageProvider) *descriptorPool {
	p := &descriptorPool{pages: pages, chunkPages: 1}
	p.free.head.Store(newEmptyTaggedStack())
	empty := []*descriptorSlab{}
	p.slabs.Store(&empty)
	return p
}

func (p *descriptorPool) setChunkPages(n int) {
	p.chunkPagesMu.Lock()
	p.chunkPages = n
	p.chunkPagesMu.Unlock()
}

func (p *descriptorPool) descAt(idx uint32) *descriptor {
	slabID := idx / descriptorsPerSlab
	slotID := idx % descriptorsPerSlab
	slabs := *p.slabs.Load()
	return &slabs[slabID].descs[slotID]
}

func (p *descriptorPool) freeNextOf(idx uint32) *uint32 {
	return &p.descAt(idx).freePoolNext
}

// growLocked maps a fresh slab of descriptorsPerSlab descriptors and
// chains them onto the free stack. The caller must hold growMu.
func (p *descriptorPool) growLocked() error {
	p.chunkPagesMu.RLock()
	chunkPages := p.chunkPages
	p.chunkPagesMu.RUnlock()

	want := descriptorsPerSlab * int(unsafe.Sizeof(descriptor{}))
	pages := pagesForBytes(want)
	if pages < chunkPages {
		pages = chunkPages
	}

	region, err := p.pages.Acquire(pages * osPageSize())
	if err != nil {
		logOSAllocFailure(pages*osPageSize(), err)
		return err
	}

	old := p.slabs.Load()
	base := uint32(len(*old)) * descriptorsPerSlab
	slab := &descriptorSlab{
		base:  uintptr(unsafe.Pointer(&region[0])),
		pages: pages,
		descs: unsafe.Slice((*descriptor)(unsafe.Pointer(&region[0])), descriptorsPerSlab),
	}
	next := append(append([]*descriptorSlab{}, *old...), slab)
	p.slabs.Store(&next)

	for i := descriptorsPerSlab - 1; i >= 0; i-- {
		p.free.push(base+uint32(i), p.freeNextOf)
	}
	logDescriptorPoolGrown(descriptorsPerSlab)
	return nil
}

// alloc pops a free descriptor, growing the pool first if necessary.
func (p *descriptorPool) alloc() (*descriptor, uint32, error) {
	for {
		if idx, ok := p.free.pop(p.freeNextOf); ok {
			return p.descAt(idx), idx, nil
		}

		p.growMu.Lock()
		if idx, ok := p.free.pop(p.freeNextOf); ok {
			p.growMu.Unlock()
			return p.descAt(idx), idx, nil
		}
		err := p.growLocked()
		p.growMu.Unlock()
		if err != nil {
			return nil, 0, err
		}
	}
}

func (p *descriptorPool) retire(idx uint32) {
	p.free.push(idx, p.freeNextOf)
}

func pagesForBytes(n int) int {
	ps := osPageSize()
	return (n + ps - 1) / ps
}
