package mmdb

import "sort"

// dirtyRoomBudget bounds the writer's in-memory dirty list, matching §4.7's
// "fixed capacity (dirty_room)". Expressed as a page count rather than a
// byte budget for simplicity.
const dirtyRoomBudget = 4096

// spillFraction is the share of the dirty list flushed to disk once the
// list runs low on room, per §4.7 "flushes ~1/8 of the dirty list".
const spillFraction = 8

// getPage implements the page-get abstraction from §2: dirty list, then
// spill set (still servable without re-reading since unspilled bytes
// persist in the dirty buffer until evicted), then the mapped file.
func (tx *Tx) getPage(id pgno) page {
	if tx.dirty != nil {
		if dp, ok := tx.dirty[id]; ok {
			return dp.page()
		}
	}
	return pageAt(tx.env.fm.buf, tx.env.pageSize, id)
}

// markDirty records a freshly allocated or copy-on-written page in the
// dirty list, kept sorted by pgno as §4.7 specifies.
func (tx *Tx) markDirty(dp *dirtyPage) error {
	if _, exists := tx.dirty[dp.id]; exists {
		tx.dirty[dp.id] = dp
		return nil
	}
	if len(tx.dirty) >= dirtyRoomBudget {
		if err := tx.spillSome(); err != nil {
			return err
		}
	}
	tx.dirty[dp.id] = dp
	i := sort.Search(len(tx.dirtyOrder), func(i int) bool { return tx.dirtyOrder[i] >= dp.id })
	tx.dirtyOrder = append(tx.dirtyOrder, 0)
	copy(tx.dirtyOrder[i+1:], tx.dirtyOrder[i:])
	tx.dirtyOrder[i] = dp.id
	return nil
}

// newDirtyPage carves out a fresh zeroed dirty page buffer for pgno id sized
// for count contiguous pages (count > 1 only for overflow runs), per §4.7:
// "the page is zeroed after the header for initialized-memory safety".
func newDirtyPage(id pgno, count int, pageSize int) *dirtyPage {
	buf := make([]byte, count*pageSize)
	return &dirtyPage{id: id, buf: buf}
}

// allocate implements §4.6's allocate-n-contiguous-pages algorithm.
func (tx *Tx) allocate(n int) (pgno, error) {
	if err := tx.checkWritable(); err != nil {
		return 0, err
	}

	// Step 1: loose list, singleton only.
	if n == 1 && len(tx.loose) > 0 {
		id := tx.loose[len(tx.loose)-1]
		tx.loose = tx.loose[:len(tx.loose)-1]
		return id, nil
	}

	// Step 2: a run of n consecutive decreasing entries at reclaim's tail.
	if id, ok := tx.spliceReclaimRun(n); ok {
		return id, nil
	}

	// Steps 3-4: pull more free-DB records into reclaim until a run is
	// found or the oldest live snapshot blocks further consumption.
	budget := 60 * n
	for iter := 0; iter < budget; iter++ {
		rec, key, ok, err := tx.nextFreeDBRecord()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		oldest := tx.env.readers.oldestLiveSnapshot(tx.id)
		if key >= oldest {
			// Re-scan once before giving up on this record.
			oldest = tx.env.readers.oldestLiveSnapshot(tx.id)
			if key >= oldest {
				break
			}
		}

		tx.reclaim = append(tx.reclaim, rec...)
		tx.reclaim = reverseSorted(tx.reclaim) // keep descending, full re-sort
		tx.lastConsumedTxnID = key
		tx.consumedFreeDBKeys = append(tx.consumedFreeDBKeys, key)

		if id, ok := tx.spliceReclaimRun(n); ok {
			return id, nil
		}
	}

	// Step 5: allocate fresh from the tail.
	last := tx.snap.lastPgno
	if int(last)+n >= maxAddressablePages(tx.env) {
		return 0, errMapFull
	}
	id := last + 1
	tx.snap.lastPgno = last + pgno(n)

	needed := (int(id) + n) * tx.env.pageSize
	if needed > tx.env.fm.mmapSize {
		if err := tx.env.fm.grow(needed); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// maxAddressablePages is the file-budget ceiling allocate's step 5 checks
// against: the page count of maxMmapSize, the largest map grow will create.
func maxAddressablePages(env *Env) int {
	return maxMmapSize / env.pageSize
}

// spliceReclaimRun scans reclaim (descending order) from the tail for n
// consecutive decreasing pgno, splices it out, and returns its first pgno.
func (tx *Tx) spliceReclaimRun(n int) (pgno, bool) {
	if len(tx.reclaim) < n {
		return 0, false
	}
	for i := len(tx.reclaim) - 1; i >= n-1; i-- {
		ok := true
		for j := 0; j < n-1; j++ {
			if tx.reclaim[i-j-1] != tx.reclaim[i-j]+1 {
				ok = false
				break
			}
		}
		if ok {
			start := i - n + 1
			first := tx.reclaim[i]
			copy(tx.reclaim[start:], tx.reclaim[i+1:])
			tx.reclaim = tx.reclaim[:len(tx.reclaim)-n]
			return first, true
		}
	}
	return 0, false
}

// freePage appends id to this txn's free list. If id was dirtied by this
// same txn it instead goes on the loose list (§4.7), reused before any
// reclaim-set page.
func (tx *Tx) freePage(id pgno) {
	if _, dirtiedHere := tx.dirty[id]; dirtiedHere {
		delete(tx.dirty, id)
		tx.removeDirtyOrder(id)
		tx.loose = append(tx.loose, id)
		return
	}
	tx.freed = append(tx.freed, id)
}

func (tx *Tx) removeDirtyOrder(id pgno) {
	for i, v := range tx.dirtyOrder {
		if v == id {
			tx.dirtyOrder = append(tx.dirtyOrder[:i], tx.dirtyOrder[i+1:]...)
			return
		}
	}
}

// spillSome flushes roughly 1/spillFraction of the dirty list to disk from
// the tail, skipping loose/keep pages and anything already spilled, per
// §4.7. Spilled pages remain referenceable through the dirty map (bytes
// survive) but their pgno is recorded (shifted left by one) in the spill
// set so touch() knows to pull them back before mutating.
func (tx *Tx) spillSome() error {
	if len(tx.dirtyOrder) == 0 {
		return nil
	}
	toFlush := len(tx.dirtyOrder) / spillFraction
	if toFlush == 0 {
		toFlush = 1
	}

	tx.markKeepForTrackedCursors()

	flushed := 0
	for i := len(tx.dirtyOrder) - 1; i >= 0 && flushed < toFlush; i-- {
		id := tx.dirtyOrder[i]
		dp := tx.dirty[id]
		if dp.flag&(pageLoose|pageKeep) != 0 {
			continue
		}
		if tx.isSpilled(id) {
			continue
		}
		if err := tx.writePageToDisk(dp); err != nil {
			return err
		}
		tx.spill = tx.spill.appendUnchecked(id << 1)
		flushed++
	}
	return nil
}

func (tx *Tx) isSpilled(id pgno) bool {
	for _, v := range tx.spill {
		if v>>1 == id {
			return true
		}
	}
	return false
}

// markKeepForTrackedCursors sets pageKeep on every dirty page currently
// referenced by a live cursor's stack, so spill skips it. Implemented as a
// plain membership scan; §9 notes the original's xor-parity trick is
// fragile and recommends a generation counter or equivalent -- a direct
// recompute-each-time scan sidesteps the parity-desync hazard entirely.
func (tx *Tx) markKeepForTrackedCursors() {
	for _, dp := range tx.dirty {
		dp.flag &^= pageKeep
	}
	for _, c := range tx.trackedCursors {
		for _, f := range c.stack {
			if dp, ok := tx.dirty[f.id]; ok {
				dp.flag |= pageKeep
			}
		}
	}
}

func (tx *Tx) writePageToDisk(dp *dirtyPage) error {
	off := int64(dp.id) * int64(tx.env.pageSize)
	_, err := tx.env.fm.dataFile.WriteAt(dp.buf, off)
	return err
}
