package mmdb

import (
	"fmt"
)

// dirtyPage is a heap-allocated, writable copy of a page, owned exclusively
// by the write transaction that created it until commit frees it back.
type dirtyPage struct {
	id   pgno
	buf  []byte
	flag pageFlag // pageLoose / pageKeep live here, not on-disk
}

func (d *dirtyPage) page() page { return page{buf: d.buf} }

// Tx is a transaction: the MVCC unit for readers, and the sole in-flight
// mutation unit for the one writer. Grounded on the teacher's tx.go /
// db/tx.go, generalized to 64-bit pgno/txnid and to the spec's dirty
// list + free-DB reclamation design instead of the teacher's in-memory
// node/spill overlay (see DESIGN.md).
type Tx struct {
	env      *Env
	writable bool
	id       txnid

	// snap is this txn's working copy of the meta DB records. Readers
	// never mutate it; writers do, and it becomes the new meta on commit.
	snap metaSnapshot

	// Reader-only state.
	readerToken uint64

	// Writer-only state.
	dirty       map[pgno]*dirtyPage
	dirtyOrder  []pgno // insertion order by pgno, kept sorted
	spill       idList
	freed       idList // pages freed by this txn, saved to free-DB on commit
	loose       idList // dirtied-then-freed-this-txn pages, reused first
	reclaim     idList // in-memory reclaim set, descending order
	lastConsumedTxnID txnid
	consumedFreeDBKeys []txnid // on-disk free-DB keys pulled into reclaim this txn, pending deletion on commit
	trackedCursors []*Cursor
	mainRootScratch pgno // scratch backing MainCursor's *pgno; see MainCursor
	parent      *Tx // non-nil for a nested write txn (§4.10)

	errored bool
	closed  bool
}

// Begin starts a transaction. Readers never block on anything but the
// first-ever slot claim and page faults (§5); at most one writer exists at
// a time, serialized by the environment's writer mutex.
func (env *Env) Begin(writable bool) (*Tx, error) {
	if env.isFatal() {
		return nil, errEnvFatal
	}
	if writable {
		return env.beginWritable()
	}
	return env.beginReader()
}

func (env *Env) beginReader() (*Tx, error) {
	pid := int64(processID())
	token, snapID, err := env.readers.acquireSlot(pid, env.opts.MaxReaders)
	if err != nil {
		return nil, err
	}
	env.readers.publishSnapshot(token, snapID)

	m := env.currentMeta()

	tx := &Tx{
		env:         env,
		writable:    false,
		id:          snapID,
		readerToken: token,
		snap:        m.snapshot(),
	}
	return tx, nil
}

func (env *Env) beginWritable() (*Tx, error) {
	if env.opts.ReadOnly {
		return nil, errReadOnlyTxn
	}
	env.readers.writeMu.Lock()

	committed := env.readers.committed()
	m := env.currentMeta()

	tx := &Tx{
		env:      env,
		writable: true,
		id:       committed + 1,
		snap:     m.snapshot(),
		dirty:    make(map[pgno]*dirtyPage),
	}
	env.writerTx = tx
	return tx, nil
}

// BeginChild starts a nested write transaction, per §4.10: it shadows the
// parent's dirty/free lists and splices its changes back on commit, or is
// discarded whole on abort. Preserved for API compatibility; core B+tree
// code does not itself nest transactions.
func (tx *Tx) BeginChild() (*Tx, error) {
	if !tx.writable {
		return nil, errReadOnlyTxn
	}
	if tx.closed {
		return nil, errTxClosed
	}
	child := &Tx{
		env:      tx.env,
		writable: true,
		id:       tx.id,
		snap:     tx.snap,
		dirty:    make(map[pgno]*dirtyPage),
		parent:   tx,
	}
	return child, nil
}

func (tx *Tx) checkWritable() error {
	if tx.closed {
		return errTxClosed
	}
	if tx.errored {
		return errBadTxn
	}
	if !tx.writable {
		return errReadOnlyTxn
	}
	return nil
}

func (tx *Tx) fail(err error) error {
	if err != nil {
		tx.errored = true
	}
	return err
}

// Commit implements §4.10's write-txn commit sequence. Step 5 (the meta
// write) is the sole commit point: until it returns, the pre-txn meta still
// refers to the pre-txn roots and every page this txn touched is
// unreachable, so any earlier failure leaves the database byte-identical to
// before Begin.
func (tx *Tx) Commit() error {
	if !tx.writable {
		return tx.endReader()
	}
	if tx.closed {
		return errTxClosed
	}
	if tx.errored {
		tx.Rollback()
		return errBadTxn
	}

	if tx.parent != nil {
		return tx.commitChild()
	}

	if err := tx.saveFreeList(); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.flushDirtyPages(); err != nil {
		tx.Rollback()
		return err
	}

	if tx.env.opts.Durability != SyncNone {
		if err := tx.env.fm.fsyncData(); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.writeMeta(); err != nil {
		tx.env.markFatal(err)
		return err
	}

	tx.env.readers.publishCommitted(tx.id)
	tx.closed = true
	tx.env.readers.writeMu.Unlock()
	tx.env.writerTx = nil
	return nil
}

// flushDirtyPages writes every remaining dirty page (any not already
// written by an earlier spillSome) to the data file, per §4.10 commit step
// 4. Page content, not meta, is durable before writeMeta ever runs.
func (tx *Tx) flushDirtyPages() error {
	for id, dp := range tx.dirty {
		if tx.isSpilled(id) {
			continue
		}
		if err := tx.writePageToDisk(dp); err != nil {
			return fmt.Errorf("mmdb: flush dirty page %d: %w", id, err)
		}
	}
	return nil
}

// writeMeta is commit's sole commit point (§4.10 step 5/§4.5): it
// overwrites whichever meta slot is currently stale with this txn's new
// roots and txnid, through the synchronous fd so the write is durable
// without a separate fsync. A failed or torn write scribbles the previous
// (still-valid) bytes back over the same slot so no reader can ever
// observe a half-written meta page.
func (tx *Tx) writeMeta() error {
	env := tx.env
	slot := env.staleMetaSlot()

	old := append([]byte{}, pageAt(env.fm.buf, env.pageSize, pgno(slot)).buf[pageHeaderSize:pageHeaderSize+metaLayoutSize]...)

	scratch := make([]byte, metaLayoutSize)
	snap := tx.snap
	snap.txnID = tx.id
	snap.writeInto(meta{buf: scratch})

	var err error
	if env.opts.Durability == SyncFull {
		err = env.fm.pwriteMeta(slot, env.pageSize, scratch)
	} else {
		off := int64(slot)*int64(env.pageSize) + pageHeaderSize
		_, err = env.fm.dataFile.WriteAt(scratch, off)
	}
	if err != nil {
		env.fm.scribbleStaleMeta(slot, env.pageSize, old)
		return fmt.Errorf("mmdb: write meta: %w", err)
	}
	return nil
}

func (tx *Tx) commitChild() error {
	p := tx.parent
	for id, dp := range tx.dirty {
		p.dirty[id] = dp
		p.dirtyOrder = append(p.dirtyOrder, id)
	}
	p.freed = append(p.freed, tx.freed...)
	p.loose = append(p.loose, tx.loose...)
	p.snap = tx.snap
	tx.closed = true
	return nil
}

// Rollback discards a write txn's dirty state, or releases a reader's slot.
// Per invariant 5, an aborted write txn leaves the environment byte-identical
// to its state before Begin: nothing written here has been made reachable
// from meta, and spilled pages (if any) are simply orphaned bytes the next
// writer's allocator will eventually reclaim once no free-DB record points
// at them (they were never linked into any DB record or free-DB key).
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.closed = true
	if !tx.writable {
		tx.endReaderQuiet()
		return
	}
	if tx.parent == nil {
		tx.env.readers.writeMu.Unlock()
		tx.env.writerTx = nil
	}
}

func (tx *Tx) endReader() error {
	tx.endReaderQuiet()
	return nil
}

func (tx *Tx) endReaderQuiet() {
	tx.env.readers.release(tx.readerToken)
}

func processID() int {
	return osGetpid()
}

// wrapf wraps an error with the txn id for easier debugging, matching
// the teacher's habit of annotating errors with state (e.g. db.go's
// log.Info calls) rather than returning bare sentinels.
func (tx *Tx) wrapf(format string, err error) error {
	return fmt.Errorf("txn %d: "+format+": %w", tx.id, err)
}
