package mmdb

// dup.go implements DupSort buckets: named sub-databases that allow
// multiple values under one key, per spec §"Duplicates (DupSort)". A
// single-valued key stores its value directly, same as any other bucket.
// The first duplicate insert promotes that key to an embedded sub-page (a
// leaf-shaped byte buffer held inline in the node's data slot, the way the
// teacher's node.go describes F_DUPDATA nodes); once the sub-page would
// outgrow maxInlineValue() it is promoted again to a real sub-DB tree,
// mirroring the spec's two-stage promotion exactly. Duplicate values
// become the *keys* of that sub-structure (sorted under the bucket's dup
// comparator) with empty data, since DupSort values have no independent
// payload beyond their own bytes (§"Key/value size limits").

// dupSubPageHeaderBudget is added to the node sizes when sizing the first
// embedded sub-page of a key: room for the sub-page's own 16-byte page
// header plus the two 2-byte offset slots of its first two entries.
const dupSubPageHeaderBudget = pageHeaderSize + 2*2

// newEmbeddedSubPage allocates an in-memory (non-pgno-backed) leaf buffer
// sized to fit hint bytes of entries, reusing the page codec's insertNode/
// searchPage logic on a heap buffer instead of a real mmap'd page.
func newEmbeddedSubPage(hint int) page {
	size := hint
	if size < pageHeaderSize+64 {
		size = pageHeaderSize + 64
	}
	p := page{buf: make([]byte, size)}
	p.initEmpty(0, pageLeaf|pageSubPage)
	return p
}

// growEmbeddedSubPage doubles a sub-page's backing buffer and reinserts
// every existing entry, used when an insert doesn't fit the current size
// but the result would still be under the inline threshold.
func growEmbeddedSubPage(p page) page {
	bigger := page{buf: make([]byte, len(p.buf)*2)}
	bigger.initEmpty(0, pageLeaf|pageSubPage)
	for _, e := range readAllEntries(p) {
		insertNode(bigger, bigger.numNodes(), e.key, nil, 0)
	}
	return bigger
}

// dupKeysFromSubPage extracts the sorted duplicate values held in an embedded
// sub-page, in its own node order (already sorted by the dup comparator
// since insertNode always inserts at the comparator's sorted position).
func dupKeysFromSubPage(buf []byte) [][]byte {
	p := page{buf: buf}
	out := make([][]byte, 0, p.numNodes())
	for i := 0; i < p.numNodes(); i++ {
		out = append(out, append([]byte{}, p.nodeAt(i).key()...))
	}
	return out
}

// CreateDupBucket creates a new named DupSort sub-database: every key may
// hold more than one value, ordered by dupCmp (defaults to CompareBytes
// when nil).
func (tx *Tx) CreateDupBucket(name string, dupCmp Comparator) (*Bucket, error) {
	if dupCmp == nil {
		dupCmp = CompareBytes
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return nil, err
	}
	b.rec.setFlags(b.rec.flags() | dupSortFlag)
	if err := b.persist(); err != nil {
		return nil, err
	}

	tx.env.mu.Lock()
	tx.env.dbHandles[name].dupComparator = dupCmp
	tx.env.mu.Unlock()
	b.dupCmp = dupCmp
	return b, nil
}

// dupComparatorFor resolves the in-process dup comparator cached for this
// bucket's name, defaulting to CompareBytes the same way bucketComparator
// does for the primary comparator.
func (tx *Tx) dupComparatorFor(name string) Comparator {
	tx.env.mu.Lock()
	defer tx.env.mu.Unlock()
	if h, ok := tx.env.dbHandles[name]; ok && h.dupComparator != nil {
		return h.dupComparator
	}
	return CompareBytes
}

// PutDup inserts value as one more duplicate under key, creating the key if
// absent and promoting a single value or an embedded sub-page to the next
// representation as needed. A value already present under key is a no-op.
func (b *Bucket) PutDup(key, value []byte) error {
	if err := b.tx.checkWritable(); err != nil {
		return err
	}
	if !b.rec.isDupSort() {
		return errIncompatible
	}
	if b.dupCmp == nil {
		b.dupCmp = b.tx.dupComparatorFor(b.name)
	}

	root := b.rec.root()
	existingData, existingFlags, found, err := b.tx.treeGet(root, b.cmp, key)
	if err != nil {
		return err
	}

	switch {
	case !found:
		if err := b.tx.treePut(&root, b.cmp, key, value, 0); err != nil {
			return err
		}

	case existingFlags&nodeDupData == 0:
		if b.dupCmp(existingData, value) == 0 {
			return nil
		}
		sp := newEmbeddedSubPage(dupSubPageHeaderBudget + nodeSize(existingData, nil) + nodeSize(value, nil))
		lo, hi := existingData, value
		if b.dupCmp(lo, hi) > 0 {
			lo, hi = hi, lo
		}
		insertNode(sp, 0, lo, nil, 0)
		insertNode(sp, 1, hi, nil, 0)
		if err := b.tx.treePut(&root, b.cmp, key, sp.buf, nodeDupData); err != nil {
			return err
		}

	case existingFlags&nodeSubDB == 0:
		sp := page{buf: append([]byte{}, existingData...)}
		idx, dupFound := searchPage(sp, b.dupCmp, value)
		if dupFound {
			return nil
		}
		if !insertNode(sp, idx, value, nil, 0) {
			grown := growEmbeddedSubPage(sp)
			idx, _ = searchPage(grown, b.dupCmp, value)
			insertNode(grown, idx, value, nil, 0)
			sp = grown
		}

		if len(sp.buf) > maxInlineValue(b.tx.env.pageSize) {
			subRoot, perr := b.promoteSubPageToSubDB(sp)
			if perr != nil {
				return perr
			}
			if err := b.tx.treePut(&root, b.cmp, key, subRoot.buf, nodeDupData|nodeSubDB); err != nil {
				return err
			}
		} else {
			if err := b.tx.treePut(&root, b.cmp, key, sp.buf, nodeDupData); err != nil {
				return err
			}
		}

	default:
		subRoot := dbRecordAt(append([]byte{}, existingData...))
		sr := subRoot.root()
		if err := b.tx.treePut(&sr, b.dupCmp, value, nil, 0); err != nil {
			return err
		}
		subRoot.setRoot(sr)
		if err := b.tx.treePut(&root, b.cmp, key, subRoot.buf, nodeDupData|nodeSubDB); err != nil {
			return err
		}
	}

	b.rec.setRoot(root)
	return b.persist()
}

// promoteSubPageToSubDB moves every duplicate value out of an embedded
// sub-page into a freshly allocated sub-DB tree, per the spec's "rewritten
// with F_SUB_DATABASE" promotion.
func (b *Bucket) promoteSubPageToSubDB(sp page) (dbRecord, error) {
	rec := newEmptyDBRecord()
	root := invalidPgno
	for _, v := range dupKeysFromSubPage(sp.buf) {
		if err := b.tx.treePut(&root, b.dupCmp, v, nil, 0); err != nil {
			return dbRecord{}, err
		}
	}
	rec.setRoot(root)
	return rec, nil
}

// GetAllDup returns every duplicate value stored under key, in dup
// comparator order. ok is false when key is absent.
func (b *Bucket) GetAllDup(key []byte) (values [][]byte, ok bool, err error) {
	if !b.rec.isDupSort() {
		return nil, false, errIncompatible
	}
	if b.dupCmp == nil {
		b.dupCmp = b.tx.dupComparatorFor(b.name)
	}

	data, flags, found, err := b.tx.treeGet(b.rec.root(), b.cmp, key)
	if err != nil || !found {
		return nil, found, err
	}

	switch {
	case flags&nodeDupData == 0:
		return [][]byte{append([]byte{}, data...)}, true, nil

	case flags&nodeSubDB == 0:
		return dupKeysFromSubPage(data), true, nil

	default:
		rec := dbRecordAt(data)
		var out [][]byte
		path := b.tx.descendLowest(rec.root())
		for {
			leaf := b.tx.getPage(path[len(path)-1].id)
			idx := path[len(path)-1].index
			if idx < leaf.numNodes() {
				out = append(out, append([]byte{}, leaf.nodeAt(idx).key()...))
			}
			var more bool
			path, more = b.tx.successor(path)
			if !more {
				break
			}
		}
		return out, true, nil
	}
}

// CountDup returns the number of duplicate values stored under key.
func (b *Bucket) CountDup(key []byte) (int, error) {
	values, found, err := b.GetAllDup(key)
	if err != nil || !found {
		return 0, err
	}
	return len(values), nil
}

// DeleteDup removes one duplicate value from under key, deleting the key
// entirely once its last value is gone. ok is false when value wasn't
// present under key.
func (b *Bucket) DeleteDup(key, value []byte) (bool, error) {
	if err := b.tx.checkWritable(); err != nil {
		return false, err
	}
	if !b.rec.isDupSort() {
		return false, errIncompatible
	}
	if b.dupCmp == nil {
		b.dupCmp = b.tx.dupComparatorFor(b.name)
	}

	root := b.rec.root()
	data, flags, found, err := b.tx.treeGet(root, b.cmp, key)
	if err != nil || !found {
		return false, err
	}

	switch {
	case flags&nodeDupData == 0:
		if b.dupCmp(data, value) != 0 {
			return false, nil
		}
		if _, err := b.tx.treeDelete(&root, b.cmp, key); err != nil {
			return false, err
		}

	case flags&nodeSubDB == 0:
		sp := page{buf: append([]byte{}, data...)}
		idx, dupFound := searchPage(sp, b.dupCmp, value)
		if !dupFound {
			return false, nil
		}
		deleteNode(sp, idx)
		if sp.numNodes() == 0 {
			if _, err := b.tx.treeDelete(&root, b.cmp, key); err != nil {
				return false, err
			}
		} else if sp.numNodes() == 1 {
			if err := b.tx.treePut(&root, b.cmp, key, sp.nodeAt(0).key(), 0); err != nil {
				return false, err
			}
		} else {
			if err := b.tx.treePut(&root, b.cmp, key, sp.buf, nodeDupData); err != nil {
				return false, err
			}
		}

	default:
		rec := dbRecordAt(append([]byte{}, data...))
		sr := rec.root()
		dupFound, err := b.tx.treeDelete(&sr, b.dupCmp, value)
		if err != nil || !dupFound {
			return false, err
		}
		rec.setRoot(sr)
		if sr == invalidPgno {
			if _, err := b.tx.treeDelete(&root, b.cmp, key); err != nil {
				return false, err
			}
		} else {
			if err := b.tx.treePut(&root, b.cmp, key, rec.buf, nodeDupData|nodeSubDB); err != nil {
				return false, err
			}
		}
	}

	b.rec.setRoot(root)
	return true, b.persist()
}
