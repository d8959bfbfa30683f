package memory

import (
	"os"
	"sync"
)

// pageProvider is the out-of-scope "external collaborator" named in §1:
// a pair of blocking calls that return/release page-aligned memory. The
// engine treats it as opaque; everything else in this package is built on
// top of Acquire/Release alone.
type pageProvider interface {
	// Acquire returns a page-aligned, zeroed region of exactly size
	// bytes, or an error (wrapping ErrOOM) if the OS refused.
	Acquire(size int) ([]byte, error)
	// Release returns a region previously obtained from Acquire.
	Release(b []byte) error
}

var (
	pageSizeOnce sync.Once
	pageSize     int
)

func osPageSize() int {
	pageSizeOnce.Do(func() {
		pageSize = os.Getpagesize()
	})
	return pageSize
}

// pageCeiling rounds n up to the next multiple of the OS page size.
func pageCeiling(n int) int {
	ps := osPageSize()
	return (n + ps - 1) &^ (ps - 1)
}

// osPages is the default pageProvider, backed by the platform mmap/munmap
// bindings in pages_unix.go / pages_windows.go.
type osPages struct{}

func (osPages) Acquire(size int) ([]byte, error) {
	b, err := mmapPages(size)
	if err != nil {
		return nil, ErrOOM
	}
	return b, nil
}

func (osPages) Release(b []byte) error {
	return munmapPages(b)
}
