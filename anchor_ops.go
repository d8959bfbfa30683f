package memory

// reserveBlocks implements the two-phase allocation side of §4.3. Phase 1
// CASes count down by n (and flips to FULL if it hits zero) without
// touching avail: this durably commits that n blocks belong to the caller,
// without yet saying which ones. Phase 2 then dequeues those n blocks one
// at a time, each pop re-reading the anchor's *current* avail as the block
// to take and re-walking only the single next-link that follows it.
//
// Popping one at a time, always from the live head, is deliberate: a
// concurrent Flush may prepend a freed block onto this same descriptor
// between phase 1's CAS and any later phase-2 pop. Snapshotting the chain's
// tail once (as computed right after phase 1) and reusing it across
// retries would let such a prepended block get orphaned by a later CAS
// that discards it in favor of the stale tail's next pointer, inflating
// anchor.count past the free list's real length. Re-deriving the head from
// the live anchor on every single-block pop — matching §4.3's "re-reads
// the anchor, re-walks, and retries" and the reference lrmalloc's
// MallocFromPartial, which pops its reserved credits one block at a time —
// makes every pop observe whatever the list currently exposes, so a
// prepended block is simply popped next instead of being skipped.
//
// It returns the block indices handed to the caller (order unspecified,
// as the Fill contract allows) and whether the descriptor is still
// PARTIAL (and therefore should be pushed back onto its heap's stack).
func reserveBlocks(d *descriptor, want int) (got []int32, stillPartial bool) {
	var n int
	for {
		old := d.anchor.Load()
		w := decodeAnchor(old)
		if w.state == sbFull || w.state == sbEmpty || w.count == 0 {
			return nil, false
		}

		n = want
		if uint32(n) > w.count {
			n = int(w.count)
		}
		newCount := w.count - uint32(n)
		newState := sbPartial
		if newCount == 0 {
			newState = sbFull
		}

		phase1 := encodeAnchor(anchorWord{state: newState, avail: w.avail, count: newCount, tag: w.tag + 1})
		if d.anchor.CompareAndSwap(old, phase1) {
			stillPartial = newState == sbPartial
			break
		}
	}

	got = make([]int32, 0, n)
	for i := 0; i < n; i++ {
		for {
			raw := d.anchor.Load()
			w := decodeAnchor(raw)
			idx := int32(w.avail)
			if idx < 0 || idx >= d.maxCount {
				// The live head is momentarily unreadable (a concurrent
				// pop or push is mid-flight); reload and retry rather
				// than trusting a stale or sentinel value.
				continue
			}

			next := d.nextFree(idx)
			if next < 0 || next >= d.maxCount {
				next = int32(sbAvailNone)
			}

			upd := encodeAnchor(anchorWord{state: w.state, avail: uint32(next), count: w.count, tag: w.tag + 1})
			if d.anchor.CompareAndSwap(raw, upd) {
				got = append(got, idx)
				break
			}
		}
	}
	return got, stillPartial
}

// blockReturn describes what happened when a single block was returned to
// its owning superblock via returnBlock.
type blockReturn uint8

const (
	returnedStillPartial blockReturn = iota
	returnedBecameFull                // FULL -> PARTIAL transition: caller must push to the heap's partial stack
	returnedBecameEmpty                // superblock is now entirely free: caller must unregister/unmap/retire
)

// returnBlock implements the deallocation side of §4.3 / §4.7: push idx
// onto the superblock's free list and bump count, detecting the
// FULL->PARTIAL and PARTIAL->EMPTY transitions. Once this CAS succeeds the
// caller must not read any other field of d — it may already have been
// recycled to a different superblock.
func returnBlock(d *descriptor, idx int32) blockReturn {
	for {
		old := d.anchor.Load()
		w := decodeAnchor(old)

		if w.count+1 > uint32(d.maxCount) {
			panic(ErrDoubleFree)
		}

		d.setNextFree(idx, int32(w.avail))

		newCount := w.count + 1
		newState := w.state
		switch {
		case int(newCount) == int(d.maxCount):
			newState = sbEmpty
		case w.state == sbFull:
			newState = sbPartial
		}

		next := encodeAnchor(anchorWord{state: newState, avail: uint32(idx), count: newCount, tag: w.tag + 1})
		if !d.anchor.CompareAndSwap(old, next) {
			continue
		}

		switch newState {
		case sbEmpty:
			return returnedBecameEmpty
		default:
			if w.state == sbFull {
				return returnedBecameFull
			}
			return returnedStillPartial
		}
	}
}
