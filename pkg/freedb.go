package mmdb

// Free-DB: the second always-present tree in meta (§3), keyed by the txnid
// that freed each record's pages and valued by that txn's encoded idList.
// Grounded on the teacher's freelist.go (in-memory-only free list) but
// restructured as an on-disk B+tree per §4.2/§4.6, since this module's
// allocator must survive process restarts and avoid rescanning the whole
// database for free space on every Open.

// freeDBComparator orders free-DB keys numerically by txnid. CompareBytes
// would not: encodeUint64 is little-endian, so byte-wise order of the keys
// differs from their numeric order.
var freeDBComparator Comparator = CompareUint64

// nextFreeDBRecord returns the free-DB record with the smallest key strictly
// greater than tx.lastConsumedTxnID, implementing §4.6 step 3's "pull the
// next free-DB record into the reclaim set". ok is false once the free-DB is
// exhausted.
func (tx *Tx) nextFreeDBRecord() (idList, txnid, bool, error) {
	root := tx.snap.freeDB.root()
	if root == invalidPgno {
		return nil, 0, false, nil
	}

	searchKey := encodeUint64(uint64(tx.lastConsumedTxnID) + 1)
	path, found, err := tx.descend(root, freeDBComparator, searchKey)
	if err != nil {
		return nil, 0, false, err
	}

	leaf := path[len(path)-1]
	p := tx.getPage(leaf.id)

	idx := leaf.index
	if found {
		// searchKey itself is present; that's already > lastConsumedTxnID.
	} else if idx >= p.numNodes() {
		// Past the end of this leaf: walk to the next one, if any.
		next, ok := tx.successor(path)
		if !ok {
			return nil, 0, false, nil
		}
		path = next
		leaf = path[len(path)-1]
		p = tx.getPage(leaf.id)
		idx = leaf.index
	}

	if idx >= p.numNodes() {
		return nil, 0, false, nil
	}

	n := p.nodeAt(idx)
	key := txnid(decodeUint64(n.key()))
	list := decodeIDList(n.data())
	return list, key, true, nil
}

// saveFreeList implements §4.6's "save the current txn's freed-page list
// into the free-DB" half of commit, iterating to a fixed point: writing the
// record can itself allocate or free pages (a fresh leaf, a split, an
// outgrown overflow chain), which changes what needs to be saved.
//
// Two disjoint obligations run each round, per §4.6's save-on-commit step:
// delete any free-DB record this txn consumed via allocate (its pgnos were
// either reallocated outright or folded into the leftover reclaim set
// below -- either way the original record no longer describes reality),
// and if tx.reclaim still holds pgnos this txn pulled in but never used,
// re-save them under a key in (0, lastConsumedTxnID] so they stay free
// instead of silently vanishing from the free-DB. Without the delete, the
// pages this txn reused would stay free-listed while live in its trees;
// without the re-save, the pages it did not use would be neither live nor
// free -- either way violating invariant 1.
func (tx *Tx) saveFreeList() error {
	var all idList
	key := encodeUint64(uint64(tx.id))

	for iterations := 0; ; iterations++ {
		if iterations > 1000 {
			return errDirtyListFull
		}

		consumed := tx.consumedFreeDBKeys
		tx.consumedFreeDBKeys = nil
		for _, k := range consumed {
			root := tx.snap.freeDB.root()
			if _, err := tx.treeDelete(&root, freeDBComparator, encodeUint64(uint64(k))); err != nil {
				return err
			}
			tx.snap.freeDB.setRoot(root)
		}

		round := append(idList{}, tx.freed...)
		round = append(round, tx.loose...)
		round.sortInPlace()
		tx.freed = nil
		tx.loose = nil

		leftover := append(idList{}, tx.reclaim...)
		tx.reclaim = nil

		if len(round) == 0 && len(leftover) == 0 && len(tx.consumedFreeDBKeys) == 0 {
			return nil
		}

		if len(round) > 0 {
			all = append(all, round...)
			all.sortInPlace()

			root := tx.snap.freeDB.root()
			if err := tx.treePut(&root, freeDBComparator, key, encodeIDList(all), 0); err != nil {
				return err
			}
			tx.snap.freeDB.setRoot(root)
		}

		if len(leftover) > 0 {
			leftoverKey := encodeUint64(uint64(tx.lastConsumedTxnID))
			root := tx.snap.freeDB.root()
			if err := tx.treePut(&root, freeDBComparator, leftoverKey, encodeIDList(leftover), 0); err != nil {
				return err
			}
			tx.snap.freeDB.setRoot(root)
		}
	}
}
