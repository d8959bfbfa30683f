// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.
// Further adapted for the lock-free engine.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package memory

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mmapPages(size int) ([]byte, error) {
	size = pageCeiling(size)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(osPageSize()-1) != 0 {
		panic("memory: mmap returned a non-page-aligned region")
	}
	return b, nil
}

func munmapPages(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
