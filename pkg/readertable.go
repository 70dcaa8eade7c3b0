package mmdb

import (
	"sync"
	"sync/atomic"
)

// readerSlot is one cache-line-budget-aligned cell in the reader table:
// pid, a thread id analogue (goroutine-local impossible in Go, so we key on
// a per-Tx slot token instead -- see readerTLS below), and the published
// snapshot id.
type readerSlot struct {
	pid        int64
	token      uint64
	snapshotID int64 // -1 means "released" (the spec's infinity sentinel)
}

const snapshotReleased = -1

// readerTable is the process-shared slot array plus its header. The spec
// models this as a memory-mapped file guarded by a process-shared
// recoverable mutex pair; in pure Go (no cgo, no robust pthread mutexes) we
// keep the same slot-array structure and protocol but back the mutex with a
// sync.Mutex. The slot array lives in this process's memory, so other
// processes opening the same files do not see it; within the process, slot
// writes keep the ordering (pid written last on claim, cleared first on
// release). See DESIGN.md.
type readerTable struct {
	mu      sync.Mutex // guards slot scans/claims (reader-table mutex)
	writeMu sync.Mutex // serializes writers process-wide (writer mutex)

	committedTxnID int64 // atomic: published by commit, read by Begin
	slots          []readerSlot
	nextToken      uint64
}

func newReaderTable(maxReaders int) *readerTable {
	return &readerTable{slots: make([]readerSlot, 0, maxReaders)}
}

func (rt *readerTable) publishCommitted(t txnid) {
	atomic.StoreInt64(&rt.committedTxnID, int64(t))
}

func (rt *readerTable) committed() txnid {
	return txnid(atomic.LoadInt64(&rt.committedTxnID))
}

// acquireSlot implements §4.4 reader txn start steps 1-3: find or claim a
// slot, write pid last so a concurrent lock-free scanner either sees a
// fully-claimed slot or an all-zero one, then publish the current committed
// txnid as this reader's snapshot id.
func (rt *readerTable) acquireSlot(pid int64, cap int) (uint64, txnid, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i := range rt.slots {
		if rt.slots[i].pid == 0 {
			return rt.claim(i, pid), rt.readSnapshot(), nil
		}
	}

	if len(rt.slots) >= cap {
		return 0, 0, errReadersFull
	}

	rt.slots = append(rt.slots, readerSlot{})
	return rt.claim(len(rt.slots)-1, pid), rt.readSnapshot(), nil
}

func (rt *readerTable) claim(i int, pid int64) uint64 {
	rt.nextToken++
	token := rt.nextToken
	rt.slots[i].token = token
	rt.slots[i].snapshotID = snapshotReleased
	rt.slots[i].pid = pid // written last: claim is now visible to scanners
	return token
}

// readSnapshot reads the committed txnid, retrying to catch a writer that
// advances it between two reads (§4.4 step 3).
func (rt *readerTable) readSnapshot() txnid {
	for {
		a := rt.committed()
		b := rt.committed()
		if a == b {
			return a
		}
	}
}

func (rt *readerTable) publishSnapshot(token uint64, t txnid) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.slots {
		if rt.slots[i].token == token {
			atomic.StoreInt64(&rt.slots[i].snapshotID, int64(t))
			return
		}
	}
}

// release ends a reader txn: there is no thread-local slot owner in Go to
// hand the slot back to, so it clears pid (first) and sets the snapshot id
// back to infinity, leaving the slot free for the next acquireSlot.
func (rt *readerTable) release(token uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.slots {
		if rt.slots[i].token == token {
			rt.slots[i].pid = 0
			rt.slots[i].snapshotID = snapshotReleased
			return
		}
	}
}

// clear fully vacates a slot (pid cleared first). Its only caller is
// clearSlotByToken; neither the free-DB allocator nor Close calls it.
func (rt *readerTable) clear(token uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.slots {
		if rt.slots[i].token == token {
			rt.slots[i].pid = 0
			rt.slots[i].snapshotID = snapshotReleased
			return
		}
	}
}

// oldestLiveSnapshot implements §4.4's oldest-live-snapshot scan, here
// taken under the table lock (see below): minimum snapshotID
// across occupied slots, defaulting to writerTxnID-1 when no reader is live.
// Stale reads only delay reclamation, never cause premature reclamation --
// intentional, see §4.4 and the Open Question in §9.
func (rt *readerTable) oldestLiveSnapshot(writerTxnID txnid) txnid {
	oldest := int64(writerTxnID) - 1
	// Take the table lock for a consistent snapshot of the small slot
	// array; readers never hold rt.mu across a page fault, so this scan
	// doesn't introduce a new reader suspension point per §5.
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.slots {
		s := rt.slots[i]
		if s.pid == 0 {
			continue
		}
		if s.snapshotID == snapshotReleased {
			continue
		}
		if s.snapshotID < oldest {
			oldest = s.snapshotID
		}
	}
	return txnid(oldest)
}

// occupiedSlots returns a copy of every slot whose pid is set (one per open
// read txn), used by the metrics collector and Env.Stats.
func (rt *readerTable) occupiedSlots() []readerSlot {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]readerSlot, 0, len(rt.slots))
	for _, s := range rt.slots {
		if s.pid != 0 {
			out = append(out, s)
		}
	}
	return out
}

func (rt *readerTable) clearSlotByToken(token uint64) {
	rt.clear(token)
}
