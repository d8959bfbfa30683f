// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memory implements a thread-caching, lock-free memory allocator.
//
// The allocator is organized the way tcmalloc/lrmalloc-style allocators are:
// requests are rounded up to a fixed size class and serviced from
// superblocks (page-aligned regions cut into equal-size blocks) owned by a
// per-size-class heap. Each superblock's free list lives in a single
// 64-bit atomic "anchor" word so that concurrent reservation and release of
// blocks never takes a lock. A per-goroutine Cache absorbs the fast path:
// most Allocate/Deallocate calls touch no atomic at all and only cross into
// the lock-free core when the cache runs dry (Fill) or overflows (Flush).
//
// Requests larger than the largest size class bypass the engine entirely:
// they get their own descriptor and their own OS mapping.
//
// Unlike the C allocators this design is modeled on, Go has no portable
// thread-local storage, so the per-thread cache is an explicit handle,
// Cache, obtained once per goroutine (or once per worker in a pool) rather
// than implicit machinery bolted onto every call. See Cache and NewCache.
package memory
